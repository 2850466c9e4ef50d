package email

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

func TestBuildMessage_PlainHTML(t *testing.T) {
	body := buildMessage("engine@retail.test", services.EmailMessage{
		To:       "approver@retail.test",
		Subject:  "Approval required: PO-20260314-VND-1-001",
		HTMLBody: "<html><body>approve me</body></html>",
	})

	raw := string(body)
	assert.Contains(t, raw, "From: engine@retail.test\r\n")
	assert.Contains(t, raw, "To: approver@retail.test\r\n")
	assert.Contains(t, raw, "Content-Type: text/html; charset=utf-8")
	assert.Contains(t, raw, "approve me")
	assert.NotContains(t, raw, "multipart/mixed")
}

func TestBuildMessage_WithAttachment(t *testing.T) {
	pdf := []byte(strings.Repeat("%PDF-1.4 content ", 20))
	body := buildMessage("engine@retail.test", services.EmailMessage{
		To:             "orders@acme.test",
		Subject:        "Purchase order PO-1",
		HTMLBody:       "<html><body>order attached</body></html>",
		AttachmentName: "PO-1.pdf",
		Attachment:     pdf,
	})

	raw := string(body)
	assert.Contains(t, raw, "Content-Type: multipart/mixed")
	assert.Contains(t, raw, "Content-Type: application/pdf")
	assert.Contains(t, raw, `Content-Disposition: attachment; filename="PO-1.pdf"`)
	assert.Contains(t, raw, "--"+mimeBoundary+"--\r\n")

	// The attachment decodes back to the original bytes.
	encoded := base64.StdEncoding.EncodeToString(pdf)
	for _, line := range strings.Split(wrapBase64(encoded), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
		assert.Contains(t, raw, line)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, pdf, decoded)
}

func TestBuildMessage_SubjectEncoded(t *testing.T) {
	body := buildMessage("engine@retail.test", services.EmailMessage{
		To:      "a@b.test",
		Subject: "Bestellung für Verpackungsmaterial",
	})
	assert.Contains(t, string(body), "=?utf-8?q?")
}

func TestSend_Validation(t *testing.T) {
	sender := NewSMTPSender(config.SMTPConfig{}, zap.NewNop())
	err := sender.Send(context.Background(), services.EmailMessage{To: "a@b.test"})
	assert.Error(t, err, "unconfigured host")

	sender = NewSMTPSender(config.SMTPConfig{Host: "smtp.test"}, zap.NewNop())
	err = sender.Send(context.Background(), services.EmailMessage{})
	assert.Error(t, err, "missing recipient")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = sender.Send(cancelled, services.EmailMessage{To: "a@b.test"})
	assert.Error(t, err)
}
