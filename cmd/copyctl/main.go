package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"copytrader-go/internal/config"
	"copytrader-go/internal/copytrade"
)

const (
	defaultConfigPath = "config.yaml"
	defaultBaseURL    = "http://localhost:8080"
)

func main() {
	reader := bufio.NewReader(os.Stdin)
	config.LoadEnv()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	api := newAPIClient(baseURL(), os.Getenv(config.EnvAuthUsername), os.Getenv(config.EnvAuthPassword))

	for {
		fmt.Println("\n=== Copy Trading Control ===")
		fmt.Println("1) Show status")
		fmt.Println("2) Show statistics")
		fmt.Println("3) List connected traders")
		fmt.Println("4) Edit copy settings")
		fmt.Println("5) Start copy trading")
		fmt.Println("6) Stop copy trading")
		fmt.Println("7) Show recent signals")
		fmt.Println("8) Save config")
		fmt.Println("9) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		switch choice {
		case "1":
			showStatus(ctx, api)
		case "2":
			showStatistics(ctx, api)
		case "3":
			showTraders(ctx, api)
		case "4":
			editCopy(reader, cfg)
		case "5":
			res, err := api.Start(ctx, sessionConfig(cfg))
			if err != nil {
				fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
			} else {
				fmt.Printf("%s (%d traders connected)\n", res.Message, res.Status.ConnectedTraders)
			}
		case "6":
			res, err := api.Stop(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
			} else {
				fmt.Println(res.Message)
			}
		case "7":
			showSignals(ctx, api)
		case "8":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "9":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			cancel()
			return
		default:
			fmt.Println("unknown option")
		}
		cancel()
	}
}

func showStatus(ctx context.Context, api *apiClient) {
	st, err := api.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		return
	}
	fmt.Println("\n--- Status ---")
	fmt.Printf("State: %s (active=%t)\n", st.State, st.IsActive)
	fmt.Printf("Connected traders: %d\n", st.ConnectedTraders)
	fmt.Printf("Trades copied: %d | total profit: %.2f\n", st.TradesCopied, st.TotalProfit)
	fmt.Printf("Mirror to real account: %t\n", st.MirrorToReal)
}

func showStatistics(ctx context.Context, api *apiClient) {
	stats, err := api.Statistics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statistics failed: %v\n", err)
		return
	}
	fmt.Println("\n--- Statistics ---")
	fmt.Printf("State: %s | uptime %s\n", stats.State, time.Duration(stats.UptimeSeconds*float64(time.Second)).Round(time.Second))
	fmt.Printf("Processed transactions: %d | trades copied: %d | profit: %.2f\n",
		stats.ProcessedTransactions, stats.TradesCopied, stats.TotalProfit)
	if stats.Mirror != nil {
		fmt.Printf("Mirror: %s (%s) balance %.2f\n", stats.Mirror.LoginID, stats.Mirror.State, stats.Mirror.Balance)
	}
	if len(stats.RecentTrades) == 0 {
		fmt.Println("No trades yet")
		return
	}
	fmt.Println("Recent trades:")
	for _, t := range stats.RecentTrades {
		fmt.Printf("  %s %-8s %-6s %-10s stake %.2f via %s\n",
			t.PlacedAt.Format(time.TimeOnly), t.Symbol, t.ContractType, t.Source, t.Stake, t.Route)
	}
}

func showTraders(ctx context.Context, api *apiClient) {
	traders, err := api.Traders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "traders failed: %v\n", err)
		return
	}
	if len(traders) == 0 {
		fmt.Println("no traders connected")
		return
	}
	for _, t := range traders {
		fmt.Printf("  %-12s %-5s %-10s %10.2f %s\n", t.LoginID, t.AccountType, t.State, t.Balance, t.Currency)
	}
}

func showSignals(ctx context.Context, api *apiClient) {
	signals, err := api.Signals(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signals failed: %v\n", err)
		return
	}
	if len(signals) == 0 {
		fmt.Println("no signals yet")
		return
	}
	for _, s := range signals {
		fmt.Printf("  %s %-8s %-4s %-6s %s score %.2f\n",
			s.Timestamp.Format(time.TimeOnly), s.Market, s.Type, s.Confidence, s.Strategy, s.Score)
	}
}

func editCopy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Copy Settings ---")
	cfg.Copy.Tokens = promptList(reader, "Trader tokens", cfg.Copy.Tokens)
	cfg.Copy.Assets = promptList(reader, "Assets", cfg.Copy.Assets)
	cfg.Copy.TradeTypes = promptList(reader, "Trade types", cfg.Copy.TradeTypes)
	cfg.Copy.MinStake = promptOptionalFloat(reader, "Min stake", cfg.Copy.MinStake)
	cfg.Copy.MaxStake = promptOptionalFloat(reader, "Max stake", cfg.Copy.MaxStake)
	multiplier := cfg.Copy.Multiplier
	if multiplier == 0 {
		multiplier = copytrade.DefaultMultiplier
	}
	cfg.Copy.Multiplier = promptFloat(reader, "Stake multiplier", multiplier)
	cfg.Copy.MirrorToReal = promptBool(reader, "Copy to real account", cfg.Copy.MirrorToReal)
	if cfg.Copy.MirrorToReal && cfg.Copy.RealToken == "" && os.Getenv(config.EnvRealToken) == "" {
		fmt.Printf("Set %s in the environment or config before starting\n", config.EnvRealToken)
	}
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

// promptOptionalFloat treats "-" as clearing the value.
func promptOptionalFloat(reader *bufio.Reader, label string, current *float64) *float64 {
	shown := "none"
	if current != nil {
		shown = strconv.FormatFloat(*current, 'f', 2, 64)
	}
	fmt.Printf("%s [%s, - to clear]: ", label, shown)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return current
	case "-":
		return nil
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %s\n", shown)
		return current
	}
	return &val
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	fmt.Printf("%s [%t]: ", label, current)
	line, _ := reader.ReadString('\n')
	val, err := strconv.ParseBool(strings.TrimSpace(line))
	if err != nil {
		return current
	}
	return val
}

func promptList(reader *bufio.Reader, label string, current []string) []string {
	fmt.Printf("%s [%s] (comma-separated, blank to keep): ", label, strings.Join(current, ", "))
	line, _ := reader.ReadString('\n')
	return parseList(line, current)
}

func parseList(line string, current []string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	var out []string
	for _, p := range strings.Split(line, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// sessionConfig layers secrets from the environment over the file settings
// without writing them back into cfg.
func sessionConfig(cfg *config.Config) copytrade.Config {
	withEnv := *cfg
	config.ApplyEnv(&withEnv)
	return withEnv.Copy.Session()
}

func baseURL() string {
	if u := os.Getenv("COPYCTL_URL"); u != "" {
		return u
	}
	return defaultBaseURL
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	path := defaultConfigPath
	if p := os.Getenv("COPYTRADER_CONFIG"); p != "" {
		path = p
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(path)
}
