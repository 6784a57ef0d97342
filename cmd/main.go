package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gorm.io/gorm"

	"github.com/pushbucket/pushbucket-server/cmd/api"
	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/cmd/models"
	"github.com/pushbucket/pushbucket-server/db"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations()
			return
		case "clear-db":
			runDatabaseClear()
			return
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer()
}

func runMigrations() {
	cfg := config.MustLoad()

	DB, err := db.NewPSQLStorage(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		log.Fatalf("Migration error: %v", err)
	}
	log.Println("Migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {
	migrations := map[interface{}]string{
		&models.Bucket{}:           "Bucket",
		&models.BucketUser{}:       "BucketUser",
		&models.Message{}:          "Message",
		&models.UserDevice{}:       "UserDevice",
		&models.Notification{}:     "Notification",
		&models.DeferredDelivery{}: "DeferredDelivery",
		&models.SnoozeState{}:      "SnoozeState",
		&models.SnoozeWindow{}:     "SnoozeWindow",
		&models.ExecutionRecord{}:  "ExecutionRecord",
		&models.UserSetting{}:      "UserSetting",
	}

	log.Println("Starting database migrations...")
	for model, name := range migrations {
		log.Printf("Migrating %s table...", name)
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
		log.Printf("%s migration successful", name)
	}

	log.Println("All migrations completed successfully")
	return nil
}

func startServer() {
	cfg := config.MustLoad()

	DB, err := db.NewPSQLStorage(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database")

	rdb := db.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := api.NewApiServer(cfg.HTTPServer.Address, DB, rdb, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	select {
	case <-quit:
		log.Println("Shutting down server...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}

func clearDatabase(DB *gorm.DB, tables []interface{}) error {
	if len(tables) == 0 {
		tables = []interface{}{
			&models.ExecutionRecord{},
			&models.DeferredDelivery{},
			&models.Notification{},
			&models.SnoozeWindow{},
			&models.SnoozeState{},
			&models.UserSetting{},
			&models.UserDevice{},
			&models.Message{},
			&models.BucketUser{},
			&models.Bucket{},
		}
	}

	log.Println("Dropping tables...")

	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			log.Printf("Warning dropping table %T: %v", table, err)
		} else {
			log.Printf("Table %T dropped", table)
		}
	}

	return nil
}

func runDatabaseClear() {
	cfg := config.MustLoad()

	DB, err := db.NewPSQLStorage(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()

	log.Println("Preparing to clear database...")

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)

	if confirmation != "yes" {
		log.Println("Database clearing cancelled.")
		return
	}

	var tableNames string
	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	fmt.Scanln(&tableNames)

	var tables []interface{}
	if tableNames != "" {
		for _, table := range splitTableNames(tableNames) {
			switch strings.TrimSpace(table) {
			case "Bucket":
				tables = append(tables, &models.Bucket{})
			case "BucketUser":
				tables = append(tables, &models.BucketUser{})
			case "Message":
				tables = append(tables, &models.Message{})
			case "UserDevice":
				tables = append(tables, &models.UserDevice{})
			case "Notification":
				tables = append(tables, &models.Notification{})
			case "DeferredDelivery":
				tables = append(tables, &models.DeferredDelivery{})
			case "SnoozeState":
				tables = append(tables, &models.SnoozeState{})
			case "SnoozeWindow":
				tables = append(tables, &models.SnoozeWindow{})
			case "ExecutionRecord":
				tables = append(tables, &models.ExecutionRecord{})
			case "UserSetting":
				tables = append(tables, &models.UserSetting{})
			default:
				log.Printf("Unknown table: %s", table)
			}
		}
	}

	if err := clearDatabase(DB, tables); err != nil {
		log.Fatalf("Error clearing database: %v", err)
	}

	log.Println("Database cleared successfully")
}

func splitTableNames(tableNames string) []string {
	return strings.Split(tableNames, ",")
}
