package sendexecutor

import (
	"strings"
	"testing"

	"github.com/crm/pkg/supervisor"
)

func TestNormalizeRecipient(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantOK  bool
	}{
		{"plain digits", "9647812345678", "9647812345678", true},
		{"leading plus", "+9647812345678", "9647812345678", true},
		{"spaces and dashes", " 964-781-234-5678 ", "9647812345678", true},
		{"too short", "12345", "12345", false},
		{"too long", strings.Repeat("1", 16), strings.Repeat("1", 16), false},
		{"empty", "", "", false},
		{"letters stripped leaves too short", "abc123", "123", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeRecipient(tc.raw)
			if got != tc.want || ok != tc.wantOK {
				t.Fatalf("NormalizeRecipient(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestComposeOTP_DefaultsToArabic(t *testing.T) {
	body := ComposeOTP("123456", "")
	if !strings.Contains(body, "123456") {
		t.Fatalf("expected body to contain the code, got %q", body)
	}
	if body != ComposeOTP("123456", "unknown-lang") {
		t.Fatal("expected an unrecognized language to fall back to the same Arabic template")
	}
}

func TestComposeOTP_English(t *testing.T) {
	body := ComposeOTP("999999", "en")
	if !strings.Contains(body, "999999") || !strings.Contains(body, "Your verification code") {
		t.Fatalf("unexpected English OTP body: %q", body)
	}
}

func TestRecipientOutcome_Failed(t *testing.T) {
	sent := RecipientOutcome{Outcome: supervisor.OutcomeSent}
	if sent.Failed() {
		t.Fatal("a sent outcome must not report Failed()")
	}
	failed := RecipientOutcome{Outcome: supervisor.OutcomeSendFailed}
	if !failed.Failed() {
		t.Fatal("a non-sent outcome must report Failed()")
	}
}
