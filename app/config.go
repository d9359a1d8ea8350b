package pharmadesk

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DevMode  = "dev"
	ProdMode = "prod"
)

type Config struct {
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required"`
	// Mode is dev or prod.
	Mode string `validate:"oneof=dev prod"`
	Log  struct {
		Level string `validate:"oneof=debug info warn error"`
	}
	TLS struct {
		Crt string
		Key string
	}
	Auth struct {
		// Secret is the Secret key used to sign JWT tokens.
		// The secret must be a base64 encoded string. The default is a random 32 byte string.
		Secret   Base64Encoded `validate:"required"`
		TokenExp time.Duration `validate:"gt=0"`
	}
	SQLite struct {
		// File is the path to the SQLite database file.
		File string `validate:"required"`
	}
	Redis struct {
		// URL enables the redis broker, rate cache and limiter, e.g. redis://localhost:6379/0.
		URL string `validate:"omitempty,url"`
	}
	AMQP struct {
		URL   string `validate:"omitempty,url"`
		Queue string `validate:"required_with=URL"`
	}
	Catalog struct {
		File   string
		Reload string `validate:"omitempty,cron"`
	}
	Rates struct {
		CoinGeckoKey      string
		ExchangeratesKeys []string
		NavasanKeys       []string
		Refresh           string `validate:"omitempty,cron"`
	}
	Payments struct {
		TronGrid     []string
		BlockCypher  string
		EtherscanKey string
		BscScanKeys  []string
	}
	Chat struct {
		RateLimit  int           `validate:"gte=0"`
		RateWindow time.Duration `validate:"gt=0"`
		IdleAfter  time.Duration `validate:"gt=0"`
		Sweep      string        `validate:"omitempty,cron"`
		// QueueSize bounds the outbound frames and pending events of each socket.
		QueueSize int `validate:"gt=0"`
	}
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string
	valid          bool
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

func setDefaults(v *viper.Viper) error {
	v.SetDefault("port", 8080)
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("mode", DevMode)
	v.SetDefault("log.level", "info")

	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	v.SetDefault("auth.secret", base64.StdEncoding.EncodeToString(secret))
	v.SetDefault("auth.tokenexp", "72h")

	v.SetDefault("sqlite.file", "./pharmadesk.db")
	v.SetDefault("amqp.queue", "chat.notifications")
	v.SetDefault("catalog.file", "./medicines.json")
	v.SetDefault("catalog.reload", "*/30 * * * *")
	v.SetDefault("rates.refresh", "*/15 * * * *")
	v.SetDefault("chat.ratelimit", 20)
	v.SetDefault("chat.ratewindow", "1m")
	v.SetDefault("chat.idleafter", "24h")
	v.SetDefault("chat.sweep", "0 * * * *")
	v.SetDefault("chat.queuesize", 256)
	v.SetDefault("allowedorigins", []string{"*"})

	// AutomaticEnv only sees keys viper already knows about
	for _, key := range []string{
		"tls.crt", "tls.key", "redis.url", "amqp.url",
		"rates.coingeckokey", "rates.exchangerateskeys", "rates.navasankeys",
		"payments.trongrid", "payments.blockcypher", "payments.etherscankey", "payments.bscscankeys",
	} {
		v.SetDefault(key, "")
	}
	return nil
}

// LoadConfig loads the configuration from the config file and environment variables.
// A .env file in the working directory is loaded into the environment first.
// Any invalid configuration will not be loaded, and the error wil be caught in the validation step.
func LoadConfig(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

func FormatValidationErrors(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errs.Translate(trans)

	var sb strings.Builder
	for v := range maps.Values(translated) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
