package main

import (
	"log"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	_ "github.com/klipach/courier"
)

const defaultPort = "8082"

func main() {
	port := defaultPort
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	log.Println("Started")

	if err := funcframework.Start(port); err != nil {
		log.Fatalf("funcframework.Start: %v\n", err)
	}

	log.Println("Done")
}
