package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// build is the git revision injected at build time via -ldflags.
var build = "develop"

type (
	ServerConfig struct {
		Host                      string
		Addr                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// MailConfig holds the SMTP transport settings. Credentials are never
	// hard-coded; Gmail-style app passwords go through MAIL_PASSWORD.
	MailConfig struct {
		Host     string
		Port     int
		Username string
		Password string
		UseTLS   bool // STARTTLS on a plaintext connection
		UseSSL   bool // implicit TLS
		Timeout  time.Duration
	}

	// NotificationConfig bounds the dispatcher's delivery attempts.
	// Policy is at-least-once: duplicate status emails are acceptable,
	// silently dropped ones are not.
	NotificationConfig struct {
		MaxRetries   int
		RetryBackoff time.Duration
	}

	Config struct {
		Env      string // DEV (default), TEST, QA, PROD
		Debug    bool
		TestMode bool
		Build    string
		AppName  string

		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address

		OTPTimeout     time.Duration
		SendgridApiKey string
		RollbarToken   string

		Server       ServerConfig
		Database     DatabaseConfig
		Mail         MailConfig
		Notification NotificationConfig
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "SierraWings")
	v.SetDefault("secretKey", "w1ng5-#yg4h^$cegm2emy(h!x)#*c2(#poq5-wer)enb$+57")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@sierrawings.com")
	v.SetDefault("otpTimeout", 10*time.Minute)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.debugHost", "localhost:9000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.name", "sierrawings")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.useTLS", true)
	v.SetDefault("mail.useSSL", false)
	v.SetDefault("mail.timeout", 15*time.Second)

	v.SetDefault("notification.maxRetries", 3)
	v.SetDefault("notification.retryBackoff", 2*time.Second)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env.<env> if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:      env,
		Debug:    v.GetBool("debug"),
		TestMode: env == "TEST",
		Build:    build,
		AppName:  v.GetString("appName"),

		SecretKey:        v.GetString("secretKey"),
		WorkDir:          wd,
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{Name: v.GetString("appName"), Address: v.GetString("defaultFromEmail")},

		OTPTimeout:     v.GetDuration("otpTimeout"),
		SendgridApiKey: v.GetString("sendgridApiKey"),
		RollbarToken:   v.GetString("rollbarToken"),

		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Addr:                      v.GetString("server.addr"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Name:          v.GetString("database.name"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Mail: MailConfig{
			Host:     v.GetString("mail.host"),
			Port:     v.GetInt("mail.port"),
			Username: v.GetString("mail.username"),
			Password: v.GetString("mail.password"),
			UseTLS:   v.GetBool("mail.useTLS"),
			UseSSL:   v.GetBool("mail.useSSL"),
			Timeout:  v.GetDuration("mail.timeout"),
		},
		Notification: NotificationConfig{
			MaxRetries:   v.GetInt("notification.maxRetries"),
			RetryBackoff: v.GetDuration("notification.retryBackoff"),
		},
	}
}

func (db DatabaseConfig) Address() string {
	return db.Host + ":" + db.Port
}

// Enabled reports whether the SMTP transport is configured.
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.Username != ""
}

func (m MailConfig) Addr() string {
	return m.Host + ":" + strconv.Itoa(m.Port)
}
