package msgcat

import (
	"strings"
	"testing"

	"github.com/huahua9185/dofbot-chess/internal/domain"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestEveryFaultCodeHasAMessage(t *testing.T) {
	c := newCatalog(t)
	codes := []domain.FaultCode{
		domain.FaultDetectionTimeout,
		domain.FaultBoardMismatch,
		domain.FaultGraspFailure,
		domain.FaultPathBlocked,
		domain.FaultHardwareFault,
		domain.FaultExecutionTimeout,
		domain.FaultEngineUnavailable,
		domain.FaultInvariantViolation,
		domain.FaultRestartRecovery,
	}
	for _, code := range codes {
		msg := c.FaultMessage(code, "")
		if msg == "fault."+string(code) {
			t.Errorf("no message for fault code %s", code)
		}
	}
}

func TestFaultMessageDetail(t *testing.T) {
	c := newCatalog(t)

	plain := c.FaultMessage(domain.FaultGraspFailure, "")
	if strings.Contains(plain, "(") {
		t.Errorf("message without detail should have no parenthetical: %q", plain)
	}

	detailed := c.FaultMessage(domain.FaultGraspFailure, "servo 3 stalled")
	if !strings.Contains(detailed, "(servo 3 stalled)") {
		t.Errorf("detail not rendered: %q", detailed)
	}
}

func TestResultMessages(t *testing.T) {
	c := newCatalog(t)

	if msg := c.ResultMessage(domain.ResultCheckmate, domain.White, ""); !strings.Contains(msg, "white wins") {
		t.Errorf("checkmate = %q", msg)
	}
	if msg := c.ResultMessage(domain.ResultDraw, "", "threefold repetition"); !strings.Contains(msg, "by threefold repetition") {
		t.Errorf("draw with reason = %q", msg)
	}
	if msg := c.ResultMessage(domain.ResultDraw, "", ""); strings.Contains(msg, "by") {
		t.Errorf("bare draw = %q", msg)
	}
}

func TestRenderUnknownKeyFallsBack(t *testing.T) {
	c := newCatalog(t)
	if got := c.Render("fault.no_such_code", nil); got != "fault.no_such_code" {
		t.Errorf("Render = %q, want the key itself", got)
	}
}
