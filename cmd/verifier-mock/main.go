package main

import (
	"log"
	"net/http"
	"os"

	"github.com/0xsequence/identity-verifier/api/mock"
	"github.com/0xsequence/identity-verifier/proto"
)

func main() {
	addr := os.Getenv("LISTEN_ADDRESS")
	if addr == "" {
		addr = ":9999"
	}

	backend := mock.New()
	backend.AddIdentity(mock.Identity{
		Token:          "tok_demo_1234567890",
		StoredImageURL: "https://img.example.com/reference.png",
		Methods:        proto.AvailableMethods{Biometric: true, Image: true},
		UserInfo: map[string]any{
			"firstName":   "Aline",
			"lastName":    "Uwase",
			"email":       "aline@example.com",
			"nationality": "Rwandan",
		},
		Password: "demo",
	})

	log.Printf("verification service mock listening on %s", addr)
	if err := http.ListenAndServe(addr, backend.Handler()); err != nil {
		log.Fatal(err)
	}
}
