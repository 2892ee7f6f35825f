package speedtest

import (
	"net/http"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("DefaultDoer", func(t *testing.T) {
		c := New()

		if c.doer == nil {
			t.Error("doer is nil by")
		}
		if c.ID == "" {
			t.Error("session id is empty")
		}
		if c.Meter() == nil {
			t.Error("meter is nil")
		}
	})

	t.Run("CustomDoer", func(t *testing.T) {
		doer := &http.Client{}

		c := New(WithDoer(doer))
		if c.doer != doer {
			t.Error("doer is not the same")
		}
	})

	t.Run("FreshProbeConnections", func(t *testing.T) {
		transport := &http.Transport{}
		c := New(WithDoer(&http.Client{Transport: transport}))

		probe, ok := c.probeDoer.Transport.(*http.Transport)
		if !ok || probe == transport || !probe.DisableKeepAlives {
			t.Error("probes should use their own transport without keep-alives")
		}
		if transport.DisableKeepAlives {
			t.Error("the caller's transport was modified")
		}
	})

	t.Run("DistinctSessions", func(t *testing.T) {
		if New().ID == New().ID {
			t.Error("sessions share an id")
		}
	})
}
