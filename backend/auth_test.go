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
	"strings"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"))
	gameID, playerID := newUUID(), newUUID()

	token := ti.Mint(gameID, playerID)
	if token == "" {
		t.Fatal("Mint returned an empty token")
	}
	gotGame, gotPlayer, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if gotGame != gameID || gotPlayer != playerID {
		t.Errorf("Verify = (%s, %s), want (%s, %s)", gotGame, gotPlayer, gameID, playerID)
	}
}

func TestTokenTamperedRejected(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"))
	token := ti.Mint(newUUID(), newUUID())

	// Flip a character in the signature.
	i := strings.LastIndex(token, ".") + 1
	b := []byte(token)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	if _, _, err := ti.Verify(string(b)); err == nil {
		t.Fatal("Verify accepted a tampered token")
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token := NewTokenIssuer([]byte("secret-one")).Mint(newUUID(), newUUID())
	if _, _, err := NewTokenIssuer([]byte("secret-two")).Verify(token); err == nil {
		t.Fatal("Verify accepted a token signed with another secret")
	}
}

func TestTokenGarbageRejected(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"))
	for _, s := range []string{"", "not-a-token", "a.b.c"} {
		if _, _, err := ti.Verify(s); err == nil {
			t.Errorf("Verify(%q) succeeded", s)
		}
	}
}

func TestEphemeralSecret(t *testing.T) {
	ti := NewTokenIssuer(nil)
	token := ti.Mint(newUUID(), newUUID())
	if _, _, err := ti.Verify(token); err != nil {
		t.Fatalf("Verify with generated secret: %v", err)
	}
	// A second issuer gets a different random secret.
	if _, _, err := NewTokenIssuer(nil).Verify(token); err == nil {
		t.Fatal("token verified across issuers with ephemeral secrets")
	}
}
