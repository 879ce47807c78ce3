package cmd

import (
	"context"
	"flag"
	"log"

	"mlops-backend/internal/warehouse"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// ConnectWarehouse returns nil when no warehouse URL is configured, in which
// case the warehouse endpoints are disabled.
func ConnectWarehouse(ctx context.Context, url string) *warehouse.Conn {
	if url == "" {
		log.Printf("no warehouse configured, warehouse endpoints disabled")
		return nil
	}

	conn, err := warehouse.Connect(ctx, url)
	if err != nil {
		log.Fatalf("Failed to connect to warehouse: %v", err)
	}
	return conn
}
