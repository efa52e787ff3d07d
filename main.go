package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"palaver/database"
	"palaver/handlers"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := database.Initialize(); err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}

	api := handlers.NewAPI()
	go api.Hub.Run()

	log.Printf("Palaver server listening on http://localhost:%s", port)

	if err := http.ListenAndServe(":"+port, api.Router()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
