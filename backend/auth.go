// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"crypto/rand"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionTokenTTL = 30 * 24 * time.Hour

// TokenIssuer mints and verifies the session tokens handed to players in
// GAME_STATE snapshots. A returning player presents the token to reclaim
// its playerId after a reconnect.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a TokenIssuer. With an empty secret a random one
// is generated; tokens then survive reconnects but not server restarts.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("Generating session token secret: %v", err)
		}
		log.Println("Warning: No session token secret provided. Using an ephemeral one.")
	}
	return &TokenIssuer{secret: secret}
}

// Mint returns a signed session token binding playerId to gameId.
func (ti *TokenIssuer) Mint(gameID, playerID string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": playerID,
		"gid": gameID,
		"iat": now.Unix(),
		"exp": now.Add(sessionTokenTTL).Unix(),
	})
	s, err := token.SignedString(ti.secret)
	if err != nil {
		log.Printf("Signing session token for player %s: %v", playerID, err)
		return ""
	}
	return s
}

// Verify checks a session token and returns the gameId and playerId it
// was minted for.
func (ti *TokenIssuer) Verify(tokenString string) (gameID, playerID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid session token")
	}
	playerID, _ = claims["sub"].(string)
	gameID, _ = claims["gid"].(string)
	if playerID == "" || gameID == "" {
		return "", "", fmt.Errorf("session token missing claims")
	}
	return gameID, playerID, nil
}
