package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rustyeddy/trading-executor/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "trading-executor",
	Short: "Position lifecycle executor for a CFD trading back office",
	Long: `trading-executor validates trading requests against replicated reference
data and drives the account and position ledgers through each position's
lifecycle. Opening a position is a saga: the invest amount is debited first
and credited back if the position cannot be created.

Every setting can come from the config file, a flag, or a TRADEX_ environment
variable (for example TRADEX_SERVER_GRPC_ADDR).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initEnv)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("log-format", "", "log format: json|text")
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", pf.Lookup("log-format"))
}

func initEnv() {
	viper.SetEnvPrefix("TRADEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// overrides are the keys that flags and the environment may set on top of
// the config file.
var overrides = []struct {
	key string
	set func(*config.Config, string)
}{
	{"server.grpc_addr", func(c *config.Config, v string) { c.Server.GRPCAddr = v }},
	{"server.http_addr", func(c *config.Config, v string) { c.Server.HTTPAddr = v }},
	{"accounts_manager.addr", func(c *config.Config, v string) { c.AccountsManager.Addr = v }},
	{"position_manager.addr", func(c *config.Config, v string) { c.PositionManager.Addr = v }},
	{"a_book_bridge.url", func(c *config.Config, v string) { c.ABookBridge.URL = v }},
	{"a_book_bridge.token", func(c *config.Config, v string) { c.ABookBridge.Token = v }},
	{"refdata.seed_file", func(c *config.Config, v string) { c.RefData.SeedFile = v }},
	{"refdata.feed_url", func(c *config.Config, v string) { c.RefData.FeedURL = v }},
	{"refdata.feed_token", func(c *config.Config, v string) { c.RefData.FeedToken = v }},
	{"refdata.price_stream_url", func(c *config.Config, v string) { c.RefData.PriceStreamURL = v }},
	{"refdata.price_stream_token", func(c *config.Config, v string) { c.RefData.PriceStreamToken = v }},
	{"journal.type", func(c *config.Config, v string) { c.Journal.Type = v }},
	{"journal.dsn", func(c *config.Config, v string) { c.Journal.DSN = v }},
	{"log.level", func(c *config.Config, v string) { c.Log.Level = v }},
	{"log.format", func(c *config.Config, v string) { c.Log.Format = v }},
	{"alert.kafka_brokers", func(c *config.Config, v string) { c.Alert.KafkaBrokers = strings.Split(v, ",") }},
	{"alert.kafka_topic", func(c *config.Config, v string) { c.Alert.KafkaTopic = v }},
}

// loadConfig reads the config file, if any, then applies flag and
// environment overrides and validates the result.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	for _, o := range overrides {
		if s := v.GetString(o.key); s != "" {
			o.set(cfg, s)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
