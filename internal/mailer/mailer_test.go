package mailer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"villaops.org/internal/obs"
)

func TestPasswordResetRendersToken(t *testing.T) {
	msg, err := PasswordReset("mira@villa.test", ResetData{Name: "Mira", Token: "abc123", Link: "https://villa.test/reset?token=abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.To != "mira@villa.test" || !strings.Contains(msg.Subject, "villaops") {
		t.Fatalf("unexpected message: %+v", msg)
	}
	for _, body := range []string{msg.Text, msg.HTML} {
		if !strings.Contains(body, "abc123") {
			t.Fatalf("token missing from body: %q", body)
		}
	}
	if !strings.Contains(msg.HTML, "Hello Mira") {
		t.Fatalf("name missing: %q", msg.HTML)
	}
}

func TestSMTPSenderBuild(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{From: "a@b"}); err == nil {
		t.Fatal("expected error without host")
	}
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.villa.test", From: "ops@villa.test", FromName: "Villa Ops"})
	if err != nil {
		t.Fatal(err)
	}
	if s.cfg.Port != 587 {
		t.Fatalf("default port not applied: %d", s.cfg.Port)
	}
	e := s.build(Message{To: "x@villa.test", Subject: "hi", Text: "body"})
	if e.From != "Villa Ops <ops@villa.test>" || len(e.To) != 1 || string(e.Text) != "body" {
		t.Fatalf("unexpected email: %+v", e)
	}
	raw, err := e.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(raw, []byte("Subject: hi")) {
		t.Fatalf("subject header missing: %s", raw)
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	if err := NewLogSender().Send(context.Background(), Message{To: "x@villa.test", Subject: "hello"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "mail_suppressed") || !strings.Contains(buf.String(), "x@villa.test") {
		t.Fatalf("unexpected log: %q", buf.String())
	}
}
