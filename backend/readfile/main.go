package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/ttbt-io/planningpoker/backend"
)

var (
	dataDir = flag.String("data-dir", "data", "Directory for game snapshots")
)

// main dumps persisted game records as indented JSON. Useful for
// inspecting encrypted snapshot files.
func main() {
	flag.Parse()
	// Initialize Encryption Key and Storage
	var masterKey crypto.MasterKey
	if passphrase := os.Getenv("PP_MASTER_KEY"); passphrase != "" {
		keyFile := filepath.Join(*dataDir, "master.key")

		var err error
		masterKey, err = crypto.ReadMasterKey([]byte(passphrase), keyFile)
		if err != nil {
			log.Fatalf("Failed to read master key: %v", err)
		}
		log.Println("Loaded master encryption key.")
	} else {
		keyFile := filepath.Join(*dataDir, "master.key")
		if _, err := os.Stat(keyFile); err == nil {
			log.Fatalf("Critical Security Error: %s exists but PP_MASTER_KEY is not set. Refusing to read encrypted data in unencrypted mode.", keyFile)
		}
	}
	store := storage.New(*dataDir, masterKey)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, arg := range flag.Args() {
		arg = strings.TrimPrefix(arg, *dataDir)
		rec := new(backend.GameRecord)
		if err := store.ReadDataFile(arg, rec); err != nil {
			log.Printf("%s: %v", arg, err)
			continue
		}
		fmt.Printf("=========== %s ===========\n", arg)
		if err := enc.Encode(rec); err != nil {
			log.Printf("JSON: %s: %v", arg, err)
		}
	}
}
