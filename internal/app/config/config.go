package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultServerAddress  = "localhost:8000"
	defaultStatusTable    = "state_server.ss_client_state_log"
	defaultDBMaxConns     = 20
	defaultQueueCapacity  = 1000
	defaultFlushInterval  = "100ms"
	defaultMaxLatency     = "500ms"
	defaultMaxBatchSize   = 1000
	defaultWriteTimeout   = "5s"
	defaultMaxRetries     = 5
	defaultRetryDelay     = "100ms"
	defaultMaxRetryDelay  = "2s"
	defaultDotEnvFileName = ".env"

	// MaxBatchSizeLimit в протоколе postgres не больше 65535 параметров на запрос, на строку уходит два
	MaxBatchSizeLimit = 65535 / 2
)

// ErrInvalidConfig некорректное значение параметра
var ErrInvalidConfig = errors.New("invalid config")

// CollectorConfig настройки приложения
type CollectorConfig struct {
	// ServerAddress адрес для прослушивания входящих запросов
	ServerAddress string `json:"server_address"`
	// DatabaseDSN строка подключения к БД. Поддерживается PG. Если не задана, отчеты хранятся в памяти
	DatabaseDSN string `json:"database_dsn"`
	// StatusTable таблица для отчетов, можно со схемой: schema.table
	StatusTable string `json:"status_table"`
	// DBMaxConns размер пула соединений с БД
	DBMaxConns int `json:"db_max_conns"`
	// QueueCapacity сколько отчетов может ждать в очереди, прежде чем клиенты начнут ждать
	QueueCapacity int `json:"queue_capacity"`
	// FlushInterval период сброса пачки в хранилище
	FlushInterval Duration `json:"flush_interval"`
	// MaxLatency максимальное время с прошлого сброса, после которого пачка сбрасывается принудительно
	MaxLatency Duration `json:"max_latency"`
	// MaxBatchSize максимальный размер пачки
	MaxBatchSize int `json:"max_batch_size"`
	// WriteTimeout таймаут одной попытки записи пачки
	WriteTimeout Duration `json:"write_timeout"`
	// MaxRetries число попыток записи пачки при временных ошибках хранилища
	MaxRetries uint `json:"max_retries"`
	// RetryDelay начальная задержка между попытками, дальше растет экспоненциально
	RetryDelay Duration `json:"retry_delay"`
	// MaxRetryDelay потолок задержки между попытками
	MaxRetryDelay Duration `json:"max_retry_delay"`
	// DeadLetterPath файл для пачек, которые не удалось записать. Опциональный параметр.
	DeadLetterPath string `json:"dead_letter_path"`
}

// RepoType тип хранилища отчетов
type RepoType int

const (
	// MemoryRepo хранить отчеты в памяти. Данные теряются при рестарте приложения.
	MemoryRepo RepoType = iota
	// DatabaseRepo хранить отчеты в БД
	DatabaseRepo
)

// GetRepositoryType возвращает тип репозитория RepoType.
// Если строка подключения к БД не задана, то вернется MemoryRepo
func (c CollectorConfig) GetRepositoryType() RepoType {
	if c.DatabaseDSN != "" {
		return DatabaseRepo
	}
	return MemoryRepo
}

// MarshalZerologObject выводит конфиг в лог без пароля от БД
func (c CollectorConfig) MarshalZerologObject(e *zerolog.Event) {
	dsn := ""
	if c.DatabaseDSN != "" {
		dsn = "***"
	}
	e.Str("server_address", c.ServerAddress).
		Str("database_dsn", dsn).
		Str("status_table", c.StatusTable).
		Int("db_max_conns", c.DBMaxConns).
		Int("queue_capacity", c.QueueCapacity).
		Dur("flush_interval", c.FlushInterval.Duration).
		Dur("max_latency", c.MaxLatency.Duration).
		Int("max_batch_size", c.MaxBatchSize).
		Dur("write_timeout", c.WriteTimeout.Duration).
		Uint("max_retries", c.MaxRetries).
		Dur("retry_delay", c.RetryDelay.Duration).
		Dur("max_retry_delay", c.MaxRetryDelay.Duration).
		Str("dead_letter_path", c.DeadLetterPath)
}

// Validate проверяет значения параметров
func (c CollectorConfig) Validate() error {
	switch {
	case c.ServerAddress == "":
		return fmt.Errorf("%w: empty server address", ErrInvalidConfig)
	case c.DatabaseDSN != "" && c.StatusTable == "":
		return fmt.Errorf("%w: empty status table", ErrInvalidConfig)
	case c.DBMaxConns <= 0:
		return fmt.Errorf("%w: db max conns must be positive, got %d", ErrInvalidConfig, c.DBMaxConns)
	case c.QueueCapacity <= 0:
		return fmt.Errorf("%w: queue capacity must be positive, got %d", ErrInvalidConfig, c.QueueCapacity)
	case c.FlushInterval.Duration <= 0:
		return fmt.Errorf("%w: flush interval must be positive, got %s", ErrInvalidConfig, c.FlushInterval)
	case c.MaxLatency.Duration <= 0:
		return fmt.Errorf("%w: max latency must be positive, got %s", ErrInvalidConfig, c.MaxLatency)
	case c.MaxBatchSize <= 0 || c.MaxBatchSize > MaxBatchSizeLimit:
		return fmt.Errorf("%w: max batch size must be in [1, %d], got %d", ErrInvalidConfig, MaxBatchSizeLimit, c.MaxBatchSize)
	case c.WriteTimeout.Duration <= 0:
		return fmt.Errorf("%w: write timeout must be positive, got %s", ErrInvalidConfig, c.WriteTimeout)
	case c.MaxRetries == 0:
		return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidConfig)
	case c.RetryDelay.Duration <= 0:
		return fmt.Errorf("%w: retry delay must be positive, got %s", ErrInvalidConfig, c.RetryDelay)
	case c.MaxRetryDelay.Duration < c.RetryDelay.Duration:
		return fmt.Errorf("%w: max retry delay %s is less than retry delay %s", ErrInvalidConfig, c.MaxRetryDelay, c.RetryDelay)
	}
	return nil
}

func getConfigFileName(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return getEnvOrDefault("CONFIG", "")
}

// GetConfig возвращает конфигурацию приложения, вычитывая в таком порядке
// значения по умолчанию -> файл конфигурации (-c) -> .env -> env -> аргументы командной строки
func GetConfig(args []string) (*CollectorConfig, error) {
	loadDotEnv(defaultDotEnvFileName)

	cfg, err := newDefaultConfig()
	if err != nil {
		return nil, err
	}
	if err = readConfigFile(getConfigFileName(args), cfg); err != nil {
		return nil, err
	}
	if err = readEnv(cfg); err != nil {
		return nil, err
	}

	name := "statuscollector"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	_ = flags.String("c", "", "config file. env: CONFIG")
	flags.StringVar(&cfg.ServerAddress, "a", cfg.ServerAddress, "listen address. env: SERVER_ADDRESS")
	flags.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "PG dsn. env: DATABASE_DSN")
	flags.StringVar(&cfg.StatusTable, "t", cfg.StatusTable, "status table. env: STATUS_TABLE")
	flags.IntVar(&cfg.QueueCapacity, "q", cfg.QueueCapacity, "ingestion queue capacity. env: QUEUE_CAPACITY")
	flags.DurationVar(&cfg.FlushInterval.Duration, "i", cfg.FlushInterval.Duration, "flush interval. env: FLUSH_INTERVAL")
	flags.DurationVar(&cfg.MaxLatency.Duration, "l", cfg.MaxLatency.Duration, "max time between flushes. env: MAX_LATENCY")
	flags.IntVar(&cfg.MaxBatchSize, "m", cfg.MaxBatchSize, "max batch size. env: MAX_BATCH_SIZE")
	flags.DurationVar(&cfg.WriteTimeout.Duration, "w", cfg.WriteTimeout.Duration, "write attempt timeout. env: WRITE_TIMEOUT")
	flags.UintVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "write attempts per batch. env: MAX_RETRIES")
	flags.StringVar(&cfg.DeadLetterPath, "x", cfg.DeadLetterPath, "dead letter file. env: DEAD_LETTER_PATH")
	if err = flags.Parse(args); err != nil {
		return nil, err
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaultConfig() (*CollectorConfig, error) {
	cfg := &CollectorConfig{
		ServerAddress: defaultServerAddress,
		StatusTable:   defaultStatusTable,
		DBMaxConns:    defaultDBMaxConns,
		QueueCapacity: defaultQueueCapacity,
		MaxBatchSize:  defaultMaxBatchSize,
		MaxRetries:    defaultMaxRetries,
	}
	durations := []struct {
		dst   *Duration
		value string
	}{
		{&cfg.FlushInterval, defaultFlushInterval},
		{&cfg.MaxLatency, defaultMaxLatency},
		{&cfg.WriteTimeout, defaultWriteTimeout},
		{&cfg.RetryDelay, defaultRetryDelay},
		{&cfg.MaxRetryDelay, defaultMaxRetryDelay},
	}
	for _, d := range durations {
		if err := d.dst.Set(d.value); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func readConfigFile(configFile string, cfg *CollectorConfig) error {
	if configFile == "" {
		return nil
	}
	f, err := os.Open(configFile)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func readEnv(cfg *CollectorConfig) error {
	cfg.ServerAddress = getEnvOrDefault("SERVER_ADDRESS", cfg.ServerAddress)
	cfg.DatabaseDSN = getEnvOrDefault("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.StatusTable = getEnvOrDefault("STATUS_TABLE", cfg.StatusTable)
	cfg.DeadLetterPath = getEnvOrDefault("DEAD_LETTER_PATH", cfg.DeadLetterPath)

	var err error
	if cfg.DBMaxConns, err = getEnvIntOrDefault("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return err
	}
	if cfg.QueueCapacity, err = getEnvIntOrDefault("QUEUE_CAPACITY", cfg.QueueCapacity); err != nil {
		return err
	}
	if cfg.MaxBatchSize, err = getEnvIntOrDefault("MAX_BATCH_SIZE", cfg.MaxBatchSize); err != nil {
		return err
	}
	maxRetries, err := getEnvIntOrDefault("MAX_RETRIES", int(cfg.MaxRetries))
	if err != nil {
		return err
	}
	if maxRetries < 0 {
		return fmt.Errorf("%w: MAX_RETRIES must not be negative", ErrInvalidConfig)
	}
	cfg.MaxRetries = uint(maxRetries)

	durations := map[string]*Duration{
		"FLUSH_INTERVAL":  &cfg.FlushInterval,
		"MAX_LATENCY":     &cfg.MaxLatency,
		"WRITE_TIMEOUT":   &cfg.WriteTimeout,
		"RETRY_DELAY":     &cfg.RetryDelay,
		"MAX_RETRY_DELAY": &cfg.MaxRetryDelay,
	}
	for key, dst := range durations {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err = dst.Set(value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
	}
	return nil
}

// loadDotEnv подгружает переменные из .env, уже заданные переменные окружения не перетираются
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("error loading .env")
	}
}
