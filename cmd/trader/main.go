// Command trader is an interactive command-line client for the market.
// It keeps one websocket session (the notification channel) and issues
// trading commands over the REST surface.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var baseURL string

type client struct {
	http   *http.Client
	conn   *websocket.Conn
	trader string
}

func main() {
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "market API base URL")
	flag.Parse()

	c := &client{http: &http.Client{Timeout: 10 * time.Second}}

	fmt.Println("marketops trader console. Type 'help' for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			break
		}
		if err := c.dispatch(fields); err != nil {
			fmt.Println("error:", err)
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *client) dispatch(fields []string) error {
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "help":
		printHelp()
		return nil
	case "register", "login":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <trader> <password>", cmd)
		}
		return c.connect(cmd, args[0], args[1])
	case "logout":
		return c.post("/logout", map[string]any{"trader": c.trader})
	case "unregister":
		return c.post("/unregister", map[string]any{"trader": c.trader})
	case "sell", "buy":
		name, price, qty, err := parseTrade(args)
		if err != nil {
			return err
		}
		return c.post("/"+cmd, map[string]any{
			"trader": c.trader, "name": name, "price": price, "quantity": qty,
		})
	case "wish":
		name, price, qty, err := parseTrade(args)
		if err != nil {
			return err
		}
		return c.post("/wish", map[string]any{
			"trader": c.trader, "name": name, "max_price": price, "quantity": qty,
		})
	case "list":
		return c.list()
	case "stats":
		return c.stats()
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
}

func printHelp() {
	fmt.Print(`commands:
  register <trader> <password>
  login <trader> <password>
  logout | unregister
  sell <name> <price> <quantity>
  buy <name> <price> <quantity>
  wish <name> <max-price> <quantity>
  list | stats | quit
`)
}

func parseTrade(args []string) (string, float64, int64, error) {
	if len(args) != 3 {
		return "", 0, 0, fmt.Errorf("usage: <name> <price> <quantity>")
	}
	price, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad price %q", args[1])
	}
	qty, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad quantity %q", args[2])
	}
	return args[0], price, qty, nil
}

// connect opens the websocket session and starts printing notifications.
func (c *client) connect(op, trader, password string) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(map[string]string{"op": op, "trader": trader, "password": password}); err != nil {
		conn.Close()
		return err
	}

	var welcome struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return err
	}
	if welcome.Status != "ok" {
		conn.Close()
		return fmt.Errorf("%s", welcome.Error)
	}

	c.conn = conn
	c.trader = trader
	fmt.Printf("%s ok, session open for %s\n", op, trader)

	go func() {
		for {
			var note struct {
				Kind string `json:"kind"`
				Body string `json:"body"`
			}
			if err := conn.ReadJSON(&note); err != nil {
				return
			}
			fmt.Printf("\n[%s] %s\n> ", note.Kind, note.Body)
		}
	}()
	return nil
}

func (c *client) post(endpoint string, payload map[string]any) error {
	if c.trader == "" {
		return fmt.Errorf("not logged in")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(baseURL+"/api/v1"+endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s", out["error"])
	}
	fmt.Println(out["status"])
	return nil
}

func (c *client) list() error {
	resp, err := c.http.Get(baseURL + "/api/v1/items")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var items []struct {
		Name     string `json:"name"`
		Price    string `json:"price"`
		Quantity int64  `json:"quantity"`
		Seller   string `json:"seller"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no items on the market")
		return nil
	}
	for _, it := range items {
		fmt.Printf("  %s @ $%s x %d (%s)\n", it.Name, it.Price, it.Quantity, it.Seller)
	}
	return nil
}

func (c *client) stats() error {
	if c.trader == "" {
		return fmt.Errorf("not logged in")
	}
	resp, err := c.http.Get(baseURL + "/api/v1/traders/" + c.trader + "/stats")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var out map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return fmt.Errorf("%s", out["error"])
	}
	var stats struct {
		TotalBought int64 `json:"total_bought"`
		TotalSold   int64 `json:"total_sold"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return err
	}
	fmt.Printf("bought: %d  sold: %d\n", stats.TotalBought, stats.TotalSold)
	return nil
}
