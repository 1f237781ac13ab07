// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cryptutil_test

import (
	"bytes"
	"testing"

	"github.com/sehe/pcompress/checksum"
	"github.com/sehe/pcompress/cryptutil"
)

func TestNonceSize(t *testing.T) {
	if got := cryptutil.NonceSize(cryptutil.AES); got != 8 {
		t.Errorf("NonceSize(AES) = %d, want 8", got)
	}
	if got := cryptutil.NonceSize(cryptutil.Salsa20); got != 24 {
		t.Errorf("NonceSize(SALSA20) = %d, want 24", got)
	}
}

func TestNewParams(t *testing.T) {
	for _, algo := range []cryptutil.Algorithm{cryptutil.AES, cryptutil.Salsa20} {
		p, err := cryptutil.NewParams(algo, 32)
		if err != nil {
			t.Fatalf("NewParams(%v): %v", algo, err)
		}
		if len(p.Salt) != 32 {
			t.Errorf("NewParams(%v).Salt length = %d, want 32", algo, len(p.Salt))
		}
		if len(p.Nonce) != cryptutil.NonceSize(algo) {
			t.Errorf("NewParams(%v).Nonce length = %d, want %d", algo, len(p.Nonce), cryptutil.NonceSize(algo))
		}
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("fixed-test-salt-0123456789abcdef")
	k1, err := cryptutil.DeriveKey([]byte("hunter2"), salt, 32, checksum.SHA256)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := cryptutil.DeriveKey([]byte("hunter2"), salt, 32, checksum.SHA256)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("DeriveKey is not deterministic for identical inputs")
	}
	if len(k1) != 32 {
		t.Errorf("DeriveKey length = %d, want 32", len(k1))
	}
	k3, err := cryptutil.DeriveKey([]byte("different"), salt, 32, checksum.SHA256)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("DeriveKey produced identical keys for different passwords")
	}
}

func TestAESCTRStreamRoundTrip(t *testing.T) {
	p, err := cryptutil.NewParams(cryptutil.AES, 32)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	key, err := cryptutil.DeriveKey([]byte("pw"), p.Salt, 32, checksum.SHA256)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	stream, err := cryptutil.NewStream(p, key)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	plain := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 100)
	cipherText := make([]byte, len(plain))
	stream.XORKeyStream(cipherText, plain, 0)
	if bytes.Equal(cipherText, plain) {
		t.Fatal("XORKeyStream did not change the data")
	}

	stream2, err := cryptutil.NewStream(p, key)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	decrypted := make([]byte, len(cipherText))
	stream2.XORKeyStream(decrypted, cipherText, 0)
	if !bytes.Equal(decrypted, plain) {
		t.Fatal("AES-CTR stream did not round trip")
	}
}

func TestAESCTRStreamSeekable(t *testing.T) {
	p, err := cryptutil.NewParams(cryptutil.AES, 32)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	key, err := cryptutil.DeriveKey([]byte("pw"), p.Salt, 32, checksum.SHA256)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	plain := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 65536 bytes, many blocks
	whole := make([]byte, len(plain))
	s1, _ := cryptutil.NewStream(p, key)
	s1.XORKeyStream(whole, plain, 0)

	// Decrypting the second half starting at its own absolute offset must
	// match the corresponding slice of the whole-buffer decryption --
	// chunks are processed independently, per spec.md SS5.
	mid := len(plain) / 2
	partial := make([]byte, len(plain)-mid)
	s2, _ := cryptutil.NewStream(p, key)
	s2.XORKeyStream(partial, whole[mid:], int64(mid))
	if !bytes.Equal(partial, plain[mid:]) {
		t.Fatal("AES-CTR stream is not independently seekable by absolute offset")
	}
}

func TestSalsa20StreamRoundTrip(t *testing.T) {
	p, err := cryptutil.NewParams(cryptutil.Salsa20, 32)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	stream, err := cryptutil.NewStream(p, key)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	plain := []byte("xsalsa20 stream cipher round trip test data")
	cipherText := make([]byte, len(plain))
	stream.XORKeyStream(cipherText, plain, 0)

	stream2, err := cryptutil.NewStream(p, key)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	decrypted := make([]byte, len(cipherText))
	stream2.XORKeyStream(decrypted, cipherText, 0)
	if !bytes.Equal(decrypted, plain) {
		t.Fatal("Salsa20 stream did not round trip")
	}
}

func TestSalsa20RequiresThirtyTwoByteKey(t *testing.T) {
	p, err := cryptutil.NewParams(cryptutil.Salsa20, 32)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	if _, err := cryptutil.NewStream(p, make([]byte, 16)); err == nil {
		t.Fatal("NewStream(SALSA20, 16-byte key): want error, got nil")
	}
}

func TestHMACVerify(t *testing.T) {
	key := []byte("hmac-key")
	data := []byte("frame bytes to authenticate")
	mac, err := cryptutil.HMAC(key, checksum.SHA256, data)
	if err != nil {
		t.Fatalf("HMAC: %v", err)
	}
	ok, err := cryptutil.VerifyHMAC(key, checksum.SHA256, mac, data)
	if err != nil {
		t.Fatalf("VerifyHMAC: %v", err)
	}
	if !ok {
		t.Fatal("VerifyHMAC rejected a valid mac")
	}

	tampered := append([]byte(nil), mac...)
	tampered[0] ^= 0xFF
	ok, err = cryptutil.VerifyHMAC(key, checksum.SHA256, tampered, data)
	if err != nil {
		t.Fatalf("VerifyHMAC: %v", err)
	}
	if ok {
		t.Fatal("VerifyHMAC accepted a tampered mac")
	}
}

func TestHMACMultiPartMatchesConcatenation(t *testing.T) {
	key := []byte("hmac-key")
	a, b := []byte("part one "), []byte("part two")
	multi, err := cryptutil.HMAC(key, checksum.CRC32, a, b)
	if err != nil {
		t.Fatalf("HMAC: %v", err)
	}
	single, err := cryptutil.HMAC(key, checksum.CRC32, append(append([]byte(nil), a...), b...))
	if err != nil {
		t.Fatalf("HMAC: %v", err)
	}
	if !bytes.Equal(multi, single) {
		t.Fatal("HMAC over split writes != HMAC over the concatenation")
	}
}

func TestSizeMatchesChecksumSize(t *testing.T) {
	for _, algo := range []checksum.Algorithm{checksum.CRC32, checksum.SHA256, checksum.XXHash} {
		if got, want := cryptutil.Size(algo), checksum.Size(algo); got != want {
			t.Errorf("cryptutil.Size(%v) = %d, want %d", algo, got, want)
		}
	}
}
