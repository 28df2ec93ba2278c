package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/deal-pipeline/internal/source"
)

func TestCleanupScript_Empty(t *testing.T) {
	assert.Empty(t, CleanupScript(source.PageCleanup{}))
}

func TestCleanupScript_EmbedsSelectors(t *testing.T) {
	js := CleanupScript(source.PageCleanup{
		ClickSelectors:  []string{"#onetrust-accept-btn-handler"},
		RemoveSelectors: []string{".modal-backdrop", `div[id^="hs-"]`},
		StripStyles:     true,
	})
	assert.Contains(t, js, `["#onetrust-accept-btn-handler"]`)
	assert.Contains(t, js, `".modal-backdrop"`)
	assert.Contains(t, js, `"div[id^=\"hs-\"]"`)
	assert.Contains(t, js, "if (true)")
}

func TestCleanupScript_NoStrip(t *testing.T) {
	js := CleanupScript(source.PageCleanup{RemoveSelectors: []string{".x"}})
	assert.Contains(t, js, "if (false)")
	assert.Contains(t, js, "[]")
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 45*time.Second, o.Timeout)
	assert.Equal(t, 5*time.Minute, o.UnblockWait)
	assert.Equal(t, 5*time.Second, o.PollInterval)

	o = Options{Timeout: time.Second}.withDefaults()
	assert.Equal(t, time.Second, o.Timeout)
}
