package main

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
)

func TestPairingURLCarriesToken(t *testing.T) {
	link, err := pairingURL("http://10.0.0.5:27490", "s3cret")
	if err != nil {
		t.Fatalf("pairingURL: %v", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "10.0.0.5:27490" || u.Query().Get("token") != "s3cret" {
		t.Fatalf("unexpected pairing url %q", link)
	}
}

func TestPairingURLWithoutToken(t *testing.T) {
	link, err := pairingURL("https://peer.example", "")
	if err != nil {
		t.Fatalf("pairingURL: %v", err)
	}
	if link != "https://peer.example" {
		t.Fatalf("unexpected pairing url %q", link)
	}
}

func TestPairingURLRejectsRelative(t *testing.T) {
	if _, err := pairingURL("peer.example", ""); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}

func TestEnrollmentPrintsSecretAndQR(t *testing.T) {
	secret, otpURL, err := generateTOTP("phone")
	if err != nil {
		t.Fatalf("generateTOTP: %v", err)
	}
	if secret == "" || !strings.HasPrefix(otpURL, "otpauth://totp/") {
		t.Fatalf("unexpected enrollment %q %q", secret, otpURL)
	}
	var out bytes.Buffer
	printEnrollment(&out, secret, otpURL)
	text := out.String()
	if !strings.Contains(text, "totp_secret: "+secret) || !strings.Contains(text, "totp_qr:") {
		t.Fatalf("missing enrollment fields:\n%s", text)
	}
	if len(strings.Split(text, "\n")) < 10 {
		t.Fatalf("expected a rendered qr code")
	}
}
