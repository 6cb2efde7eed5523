package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug        bool
		TestMode     bool
		AppName      string
		Env          string
		Build        string
		SecretKey    string
		RollbarToken string

		Server       ServerConfig
		QR           QRConfig
		Face         FaceConfig
		Geofence     GeofenceConfig
		Step         StepConfig
		Submit       SubmitConfig
		Collaborator CollaboratorConfig
		FaceModel    FaceModelConfig
		Storage      StorageConfig
		Redis        RedisConfig
		Database     DatabaseConfig
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugAddress    string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
	}

	QRConfig struct {
		TTL time.Duration
	}

	FaceConfig struct {
		MatchThreshold   float64
		MatchInterval    time.Duration
		LivenessInterval time.Duration
		EARThreshold     float64
		SmileThreshold   float64
	}

	GeofenceConfig struct {
		DefaultRadius float64 // meters
	}

	StepConfig struct {
		Timeout time.Duration
	}

	SubmitConfig struct {
		RetryMax     int
		RetryWaitMin time.Duration
		RetryWaitMax time.Duration
	}

	CollaboratorConfig struct {
		BaseURL string
		Timeout time.Duration
	}

	FaceModelConfig struct {
		BaseURL       string
		MaxFrameWidth int
	}

	StorageConfig struct {
		Engine string // memory | redis | postgres | sqlite3
	}

	RedisConfig struct {
		Address   string
		Password  string
		DB        int
		Namespace string
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite3 only
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Masomo Presence")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverAddress", ":8000")
	conf.SetDefault("serverDebugAddress", ":4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("serverDisableReqLogs", false)

	conf.SetDefault("qrTTL", 120*time.Second)

	conf.SetDefault("faceMatchThreshold", 0.45)
	conf.SetDefault("faceMatchInterval", 700*time.Millisecond)
	conf.SetDefault("faceLivenessInterval", 300*time.Millisecond)
	conf.SetDefault("faceEARThreshold", 0.25)
	conf.SetDefault("faceSmileThreshold", 0.7)

	conf.SetDefault("geofenceDefaultRadius", 100.0)
	conf.SetDefault("stepTimeout", 60*time.Second)

	conf.SetDefault("submitRetryMax", 3)
	conf.SetDefault("submitRetryWaitMin", 500*time.Millisecond)
	conf.SetDefault("submitRetryWaitMax", 5*time.Second)

	conf.SetDefault("collaboratorBaseURL", "http://localhost:5000/api")
	conf.SetDefault("collaboratorTimeout", 10*time.Second)

	conf.SetDefault("faceModelBaseURL", "http://localhost:5100")
	conf.SetDefault("faceModelMaxFrameWidth", 640)

	conf.SetDefault("storageEngine", "memory")

	conf.SetDefault("redisAddress", "localhost:6379")
	conf.SetDefault("redisPassword", "")
	conf.SetDefault("redisDB", 0)
	conf.SetDefault("redisNamespace", "presence")

	conf.SetDefault("dbEngine", "postgres")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", "5432")
	conf.SetDefault("dbName", "presence")
	conf.SetDefault("dbUser", "")
	conf.SetDefault("dbPassword", "")
	conf.SetDefault("dbAdminUser", "")
	conf.SetDefault("dbAdminPassword", "")
	conf.SetDefault("dbDisableTLS", false)
	conf.SetDefault("dbPath", "presence.db")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(configDir(), ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		AppName:      conf.GetString("appName"),
		Env:          env,
		Build:        conf.GetString("build"),
		SecretKey:    conf.GetString("secretKey"),
		RollbarToken: conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            conf.GetString("serverHost"),
			Address:         conf.GetString("serverAddress"),
			DebugAddress:    conf.GetString("serverDebugAddress"),
			ShutdownTimeout: conf.GetDuration("serverShutdownTimeout"),
			DisableReqLogs:  conf.GetBool("serverDisableReqLogs"),
		},
		QR: QRConfig{
			TTL: conf.GetDuration("qrTTL"),
		},
		Face: FaceConfig{
			MatchThreshold:   conf.GetFloat64("faceMatchThreshold"),
			MatchInterval:    conf.GetDuration("faceMatchInterval"),
			LivenessInterval: conf.GetDuration("faceLivenessInterval"),
			EARThreshold:     conf.GetFloat64("faceEARThreshold"),
			SmileThreshold:   conf.GetFloat64("faceSmileThreshold"),
		},
		Geofence: GeofenceConfig{
			DefaultRadius: conf.GetFloat64("geofenceDefaultRadius"),
		},
		Step: StepConfig{
			Timeout: conf.GetDuration("stepTimeout"),
		},
		Submit: SubmitConfig{
			RetryMax:     conf.GetInt("submitRetryMax"),
			RetryWaitMin: conf.GetDuration("submitRetryWaitMin"),
			RetryWaitMax: conf.GetDuration("submitRetryWaitMax"),
		},
		Collaborator: CollaboratorConfig{
			BaseURL: conf.GetString("collaboratorBaseURL"),
			Timeout: conf.GetDuration("collaboratorTimeout"),
		},
		FaceModel: FaceModelConfig{
			BaseURL:       conf.GetString("faceModelBaseURL"),
			MaxFrameWidth: conf.GetInt("faceModelMaxFrameWidth"),
		},
		Storage: StorageConfig{
			Engine: conf.GetString("storageEngine"),
		},
		Redis: RedisConfig{
			Address:   conf.GetString("redisAddress"),
			Password:  conf.GetString("redisPassword"),
			DB:        conf.GetInt("redisDB"),
			Namespace: conf.GetString("redisNamespace"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("dbEngine"),
			Host:          conf.GetString("dbHost"),
			Port:          conf.GetString("dbPort"),
			Name:          conf.GetString("dbName"),
			User:          conf.GetString("dbUser"),
			Password:      conf.GetString("dbPassword"),
			AdminUser:     conf.GetString("dbAdminUser"),
			AdminPassword: conf.GetString("dbAdminPassword"),
			DisableTLS:    conf.GetBool("dbDisableTLS"),
			Path:          conf.GetString("dbPath"),
		},
	}
}

// configDir returns the directory holding the .env files.
// CONFIG_DIR wins; otherwise "config" relative to the working directory.
func configDir() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(wd, "config")
}

// String returns a loggable summary of conf, without secrets.
func (conf *Config) String() string {
	var b strings.Builder
	b.WriteString("env=" + conf.Env)
	b.WriteString(" build=" + conf.Build)
	b.WriteString(" debug=" + strconv.FormatBool(conf.Debug))
	b.WriteString(" storage=" + conf.Storage.Engine)
	b.WriteString(" qrTTL=" + conf.QR.TTL.String())
	return b.String()
}
