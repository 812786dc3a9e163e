// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек движка.
type Config struct {
	Env                      string `yaml:"env"`
	StorageConnectionString  string `yaml:"storage_connection_string"`
	RabbitConnectionString   string `yaml:"rabbit_connection_string"`
	MigrationsPath           string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection          `yaml:"redis_connection"`
	HTTPServer               `yaml:"http_server"`
	JWTToken                 `yaml:"jwttoken"`
	Operator                 `yaml:"operator"`
	Panel                    `yaml:"panel"`
	Provisioning             `yaml:"provisioning"`
	Anomaly                  `yaml:"anomaly"`
	Reminders                `yaml:"reminders"`
	Bulk                     `yaml:"bulk"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном операторской сессии.
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// Operator — учётные данные оператора для входа.
// Пароль хранится bcrypt-хэшем.
type Operator struct {
	OperatorName string `yaml:"operator_name"`
	PasswordHash string `yaml:"password_hash"`
}

// Panel — настройки подключения к provisioning-панели.
type Panel struct {
	PanelURL     string        `yaml:"panel_url"`
	PanelToken   string        `yaml:"panel_token"`
	TLSVerify    bool          `yaml:"tls_verify" env-default:"true"`
	CallTimeout  time.Duration `yaml:"call_timeout" env-default:"20s"`
	MaxAttempts  int           `yaml:"max_attempts" env-default:"3"`
	RateLimitRPS float64       `yaml:"rate_limit_rps" env-default:"10"`
	GroupUUID    string        `yaml:"group_uuid"`
	SubDomain    string        `yaml:"sub_domain"`
}

// Provisioning — политика доставки заказов.
type Provisioning struct {
	MaxDeliveryAttempts int           `yaml:"max_delivery_attempts" env-default:"5"`
	RedeliverInterval   time.Duration `yaml:"redeliver_interval" env-default:"5m"`
	StaleApprovedAfter  time.Duration `yaml:"stale_approved_after" env-default:"10m"`
}

// Anomaly — настройки детектора аномалий. Формула score —
// настраиваемая политика, а не фиксированная константа.
type Anomaly struct {
	ScanInterval   time.Duration `yaml:"scan_interval" env-default:"10m"`
	Window         time.Duration `yaml:"window" env-default:"10m"`
	IPThreshold    int           `yaml:"ip_threshold" env-default:"5"`
	ScoreThreshold int           `yaml:"score_threshold" env-default:"10"`
	IPWeight       int           `yaml:"ip_weight" env-default:"2"`
	UAWeight       int           `yaml:"ua_weight" env-default:"1"`
	DensityDivisor int           `yaml:"density_divisor" env-default:"3"`
}

// Reminders — пороги напоминаний и очистки.
type Reminders struct {
	RemindDays   int           `yaml:"remind_days" env-default:"3"`
	CleanupDays  int           `yaml:"cleanup_days" env-default:"3"`
	ScanInterval time.Duration `yaml:"scan_interval" env-default:"1h"`
}

// Bulk — настройки исполнителя массовых операций.
type Bulk struct {
	Concurrency     int  `yaml:"concurrency" env-default:"4"`
	ForcePlanResend bool `yaml:"force_plan_resend" env-default:"false"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH и проверяет
// присутствие обязательных полей. Отсутствие конфигурации —
// фатальная ошибка старта.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if cfg.PanelURL == "" || cfg.PanelToken == "" {
		log.Fatal("panel_url and panel_token are required")
	}
	if cfg.StorageConnectionString == "" {
		log.Fatal("storage_connection_string is required")
	}
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RabbitConnectionString: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Panel:\n"+
			"  URL: %s\n"+
			"  TLSVerify: %t\n"+
			"  CallTimeout: %s\n"+
			"  MaxAttempts: %d\n"+
			"Provisioning:\n"+
			"  MaxDeliveryAttempts: %d\n"+
			"Anomaly:\n"+
			"  IPThreshold: %d\n"+
			"  ScoreThreshold: %d\n"+
			"Reminders:\n"+
			"  RemindDays: %d\n"+
			"  CleanupDays: %d\n",
		c.Env,
		c.StorageConnectionString,
		c.RabbitConnectionString,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.PanelURL,
		c.TLSVerify,
		c.CallTimeout,
		c.MaxAttempts,
		c.MaxDeliveryAttempts,
		c.IPThreshold,
		c.ScoreThreshold,
		c.RemindDays,
		c.CleanupDays,
	)
}
