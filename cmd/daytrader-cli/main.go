package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/pkg/daytrader"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: daytrader-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version       Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  place         Place a buy or sell order\n")
	fmt.Fprintf(os.Stderr, "  get           Show one order\n")
	fmt.Fprintf(os.Stderr, "  list          List an account's orders\n")
	fmt.Fprintf(os.Stderr, "  cancel        Cancel an open order\n")
	fmt.Fprintf(os.Stderr, "  positions     List an account's positions\n")
	fmt.Fprintf(os.Stderr, "  quote         Show one quote\n")
	fmt.Fprintf(os.Stderr, "  quotes        List all quotes\n")
	fmt.Fprintf(os.Stderr, "  update-quote  Set a symbol's price\n")
	fmt.Fprintf(os.Stderr, "  summary       Show the market summary\n")
	fmt.Fprintf(os.Stderr, "  portfolio     Show an account summary\n")
	fmt.Fprintf(os.Stderr, "  watch         Stream live events\n")
	fmt.Fprintf(os.Stderr, "\nThe server URL comes from -url or DAYTRADER_URL (default http://localhost:8080).\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("daytrader-cli %s\n", version)
		return
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cmd, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every command accepts.
type commonFlags struct {
	url     *string
	account *int64
}

func newFlags(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	def := os.Getenv("DAYTRADER_URL")
	if def == "" {
		def = "http://localhost:8080"
	}
	return fs, commonFlags{
		url:     fs.String("url", def, "server base URL"),
		account: fs.Int64("account", 0, "account ID (0 = any)"),
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	fs, common := newFlags(cmd)
	switch cmd {
	case "place":
		orderType := fs.String("type", "buy", "order type: buy or sell")
		symbol := fs.String("symbol", "", "symbol to trade")
		qty := fs.String("qty", "", "quantity")
		price := fs.String("price", "", "optional limit price hint")
		fee := fs.String("fee", "", "optional fee override")
		wait := fs.Bool("wait", false, "wait until the order settles")
		if err := fs.Parse(args); err != nil {
			return err
		}
		req := daytrader.PlaceOrderRequest{
			AccountID: *common.account,
			OrderType: strings.ToLower(*orderType),
			Symbol:    *symbol,
		}
		var err error
		if req.Quantity, err = decimal.NewFromString(*qty); err != nil {
			return fmt.Errorf("invalid -qty %q: %w", *qty, err)
		}
		if req.Price, err = optionalDecimal("price", *price); err != nil {
			return err
		}
		if req.OrderFee, err = optionalDecimal("fee", *fee); err != nil {
			return err
		}
		c := daytrader.NewClient(*common.url)
		o, err := c.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		if *wait {
			if o, err = c.WaitForOrder(ctx, o.ID, req.AccountID, 250*time.Millisecond); err != nil {
				return err
			}
		}
		return printJSON(o)

	case "get", "cancel":
		id := fs.Int64("id", 0, "order ID")
		if err := fs.Parse(args); err != nil {
			return err
		}
		c := daytrader.NewClient(*common.url)
		var o *daytrader.Order
		var err error
		if cmd == "get" {
			o, err = c.GetOrder(ctx, *id, *common.account)
		} else {
			o, err = c.CancelOrder(ctx, *id, *common.account)
		}
		if err != nil {
			return err
		}
		return printJSON(o)

	case "list":
		status := fs.String("status", "", "filter by status")
		if err := fs.Parse(args); err != nil {
			return err
		}
		orders, err := daytrader.NewClient(*common.url).ListOrders(ctx, *common.account, *status)
		if err != nil {
			return err
		}
		printOrders(orders)
		return nil

	case "positions":
		symbol := fs.String("symbol", "", "filter by symbol")
		if err := fs.Parse(args); err != nil {
			return err
		}
		positions, err := daytrader.NewClient(*common.url).GetPositions(ctx, *common.account, *symbol)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSYMBOL\tQTY\tPRICE\tORDER\tPURCHASED")
		for _, p := range positions {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", p.ID, p.Symbol, p.Quantity, p.PurchasePrice.StringFixed(2),
				p.OrderID, p.PurchaseDate.Local().Format(time.DateTime))
		}
		return w.Flush()

	case "quote":
		symbol := fs.String("symbol", "", "symbol")
		if err := fs.Parse(args); err != nil {
			return err
		}
		q, err := daytrader.NewClient(*common.url).GetQuote(ctx, *symbol)
		if err != nil {
			return err
		}
		return printJSON(q)

	case "quotes":
		if err := fs.Parse(args); err != nil {
			return err
		}
		quotes, err := daytrader.NewClient(*common.url).GetQuotes(ctx)
		if err != nil {
			return err
		}
		printQuotes(quotes)
		return nil

	case "update-quote":
		symbol := fs.String("symbol", "", "symbol")
		price := fs.String("price", "", "new price")
		volume := fs.Float64("volume", 0, "traded volume to add")
		if err := fs.Parse(args); err != nil {
			return err
		}
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return fmt.Errorf("invalid -price %q: %w", *price, err)
		}
		q, err := daytrader.NewClient(*common.url).UpdateQuote(ctx, *symbol, p, *volume)
		if err != nil {
			return err
		}
		return printJSON(q)

	case "summary":
		top := fs.Int("top", 5, "number of gainers and losers")
		if err := fs.Parse(args); err != nil {
			return err
		}
		s, err := daytrader.NewClient(*common.url).GetMarketSummary(ctx, *top)
		if err != nil {
			return err
		}
		fmt.Printf("market %s  quotes %d  volume %.0f  avg change %s%%\n",
			s.Status, s.QuoteCount, s.TotalVolume, s.AverageChangePercent.StringFixed(2))
		fmt.Println("\nTop gainers:")
		printQuotes(s.TopGainers)
		fmt.Println("\nTop losers:")
		printQuotes(s.TopLosers)
		return nil

	case "portfolio":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *common.account <= 0 {
			return errors.New("-account is required")
		}
		p, err := daytrader.NewClient(*common.url).GetPortfolio(ctx, *common.account)
		if err != nil {
			return err
		}
		return printJSON(p)

	case "watch":
		channel := fs.String("channel", "", "orders-out, quotes-out, or empty for both")
		if err := fs.Parse(args); err != nil {
			return err
		}
		err := daytrader.NewClient(*common.url).Watch(ctx, *channel, func(payload []byte) error {
			_, err := fmt.Println(string(payload))
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	usage()
	return fmt.Errorf("unknown command: %s", cmd)
}

func optionalDecimal(name, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid -%s %q: %w", name, s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOrders(orders []daytrader.Order) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tACCOUNT\tSYMBOL\tQTY\tPRICE\tFEE\tOPENED")
	for _, o := range orders {
		price := "-"
		if o.Price.Valid {
			price = o.Price.Decimal.StringFixed(2)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n", o.ID, o.OrderType, o.OrderStatus, o.AccountID,
			o.Symbol, o.Quantity, price, o.OrderFee.StringFixed(2), o.OpenDate.Local().Format(time.DateTime))
	}
	w.Flush()
}

func printQuotes(quotes []daytrader.Quote) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tPRICE\tOPEN\tLOW\tHIGH\tCHANGE\tVOLUME")
	for _, q := range quotes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.0f\n", q.Symbol, q.Price.StringFixed(2), q.Open.StringFixed(2),
			q.Low.StringFixed(2), q.High.StringFixed(2), q.Change.StringFixed(2), q.Volume)
	}
	w.Flush()
}
