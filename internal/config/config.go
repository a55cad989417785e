package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/brandon/mailmirror/pkg/types"
)

// Config holds the application configuration
type Config struct {
	HTTPAddr  string
	CachePath string
	LogLevel  string
	Log       LogConfig

	// Identity tokens are issued elsewhere; we only verify them
	JWTSecret   string
	JWTIssuer   string
	CORSOrigins []string

	Sync SyncConfig

	// Default remote mailbox, used by accounts without their own IMAP settings
	IMAP IMAPConfig

	Accounts []AccountConfig
}

// LogConfig controls optional rotating file output
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SyncConfig controls the mailbox sync engine
type SyncConfig struct {
	FolderLimit int
	InboxFolder string
	SentFolder  string
}

// IMAPConfig holds the settings for one remote IMAP mailbox
type IMAPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	UseTLS         bool
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
}

// Addr returns host:port
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccountConfig holds configuration for a single local account
type AccountConfig struct {
	Email string
	Name  string
	Role  string

	// nil means the account syncs from the default mailbox
	IMAP *IMAPConfig
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("mailmirror")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("cache_path", "/data/mailmirror.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 28)
	v.SetDefault("jwt_issuer", "mailmirror")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("sync_folder_limit", 50)
	v.SetDefault("inbox_folder", "INBOX")
	v.SetDefault("sent_folder", "Sent")
	v.SetDefault("imap_port", 993)
	v.SetDefault("imap_tls", true)
	v.SetDefault("imap_connect_timeout", "10s")
	v.SetDefault("imap_auth_timeout", "10s")

	cfg := &Config{
		HTTPAddr:  v.GetString("http_addr"),
		CachePath: v.GetString("cache_path"),
		LogLevel:  v.GetString("log_level"),
		Log: LogConfig{
			File:       v.GetString("log_file"),
			MaxSizeMB:  v.GetInt("log_max_size_mb"),
			MaxBackups: v.GetInt("log_max_backups"),
			MaxAgeDays: v.GetInt("log_max_age_days"),
		},
		JWTSecret:   v.GetString("jwt_secret"),
		JWTIssuer:   v.GetString("jwt_issuer"),
		CORSOrigins: splitList(v.GetString("cors_origins")),
		Sync: SyncConfig{
			FolderLimit: v.GetInt("sync_folder_limit"),
			InboxFolder: v.GetString("inbox_folder"),
			SentFolder:  v.GetString("sent_folder"),
		},
		IMAP: loadIMAP(v, "imap_", IMAPConfig{}),
	}

	accounts, err := loadAccounts(v, cfg.IMAP)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}

	cfg.Accounts = accounts
	return cfg, nil
}

// loadIMAP reads IMAP settings under prefix, falling back to base for anything unset
func loadIMAP(v *viper.Viper, prefix string, base IMAPConfig) IMAPConfig {
	cfg := base
	if host := v.GetString(prefix + "host"); host != "" {
		cfg.Host = host
	}
	if v.GetString(prefix+"port") != "" {
		cfg.Port = v.GetInt(prefix + "port")
	}
	if user := v.GetString(prefix + "username"); user != "" {
		cfg.Username = user
	}
	if pass := v.GetString(prefix + "password"); pass != "" {
		cfg.Password = pass
	}
	if v.GetString(prefix+"tls") != "" {
		cfg.UseTLS = v.GetBool(prefix + "tls")
	}
	if v.GetString(prefix+"connect_timeout") != "" {
		cfg.ConnectTimeout = v.GetDuration(prefix + "connect_timeout")
	}
	if v.GetString(prefix+"auth_timeout") != "" {
		cfg.AuthTimeout = v.GetDuration(prefix + "auth_timeout")
	}
	return cfg
}

// loadAccounts loads ACCOUNT_1_*, ACCOUNT_2_*, ... until the first gap
func loadAccounts(v *viper.Viper, defaultIMAP IMAPConfig) ([]AccountConfig, error) {
	var accounts []AccountConfig

	for num := 1; ; num++ {
		prefix := fmt.Sprintf("account_%d_", num)

		email := strings.TrimSpace(v.GetString(prefix + "email"))
		if email == "" {
			break
		}

		acc := AccountConfig{
			Email: strings.ToLower(email),
			Name:  v.GetString(prefix + "name"),
			Role:  v.GetString(prefix + "role"),
		}
		if acc.Name == "" {
			acc.Name = acc.Email
		}
		if acc.Role == "" {
			acc.Role = "user"
		}

		if v.GetString(prefix+"imap_host") != "" {
			override := loadIMAP(v, prefix+"imap_", defaultIMAP)
			acc.IMAP = &override
		}

		accounts = append(accounts, acc)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}

	return accounts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetAccountByEmail finds an account by email address
func (c *Config) GetAccountByEmail(email string) (*AccountConfig, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for i := range c.Accounts {
		if c.Accounts[i].Email == email {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", email)
}

// GetDefaultAccount returns the first admin account, or the first account
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	for i := range c.Accounts {
		if c.Accounts[i].Role == types.RoleAdmin {
			return &c.Accounts[i]
		}
	}

	return &c.Accounts[0]
}

// IMAPFor returns the IMAP settings used to sync the given account
func (c *Config) IMAPFor(email string) IMAPConfig {
	acc, err := c.GetAccountByEmail(email)
	if err != nil || acc.IMAP == nil {
		return c.IMAP
	}
	return *acc.IMAP
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}

	if c.Sync.FolderLimit < 1 || c.Sync.FolderLimit > 1000 {
		return fmt.Errorf("SYNC_FOLDER_LIMIT must be between 1 and 1000")
	}

	if c.Sync.InboxFolder == "" || c.Sync.SentFolder == "" {
		return fmt.Errorf("INBOX_FOLDER and SENT_FOLDER are required")
	}

	if c.Sync.InboxFolder == c.Sync.SentFolder {
		return fmt.Errorf("INBOX_FOLDER and SENT_FOLDER must differ")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	for i := range c.Accounts {
		acc := &c.Accounts[i]
		imapCfg := c.IMAPFor(acc.Email)
		if imapCfg.Host == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Email)
		}
		if imapCfg.Port < 1 || imapCfg.Port > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Email)
		}
		if imapCfg.Username == "" || imapCfg.Password == "" {
			return fmt.Errorf("account %s: IMAP_USERNAME and IMAP_PASSWORD are required", acc.Email)
		}
	}

	return nil
}

// ValidateHTTP checks the settings only the HTTP transport needs
func (c *Config) ValidateHTTP() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	return nil
}

// AccountEmails returns the email addresses of all configured accounts
func (c *Config) AccountEmails() []string {
	emails := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		emails[i] = c.Accounts[i].Email
	}
	return emails
}
