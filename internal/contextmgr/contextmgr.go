// Package contextmgr implements the ContextManager: token-budget
// analysis and history compression that preserves recent multimodal
// content.
//
// Grounded on the teacher's internal/agent/context.Packer (character-
// budget message selection, tool-result truncation) and
// internal/agent/compaction.go's CompactionManager (threshold-driven
// trigger, session-keyed state), generalized from the teacher's
// char-budget packer into the spec's token-estimate-driven compress
// algorithm that produces a persisted HistoryWindow, summary message,
// and CompressionRecord.
package contextmgr

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/relaykit/conductor/pkg/models"
)

const charsPerToken = 4
const multimodalTokenCost = 500

// Config tunes analysis and compression thresholds.
type Config struct {
	// MaxTokens is the budget above which shouldCompress is true.
	// Default 50000.
	MaxTokens int
	// CompressToTokens is the target post-compression token budget used
	// to derive the keep ratio. Default MaxTokens * 0.6.
	CompressToTokens int
	// KeepRecentMultimodal widens the keep window so at least this many
	// of the most recent multimodal blocks survive compression.
	// Default 3.
	KeepRecentMultimodal int
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 50000
	}
	if c.CompressToTokens <= 0 {
		c.CompressToTokens = int(float64(c.MaxTokens) * 0.6)
	}
	if c.KeepRecentMultimodal <= 0 {
		c.KeepRecentMultimodal = 3
	}
	return c
}

// Analysis is the result of analyze(messages).
type Analysis struct {
	TotalTokens    int
	ShouldCompress bool
}

// Manager implements the ContextManager.
type Manager struct {
	cfg Config
}

// New creates a Manager with cfg (zero-value fields get spec defaults).
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults()}
}

// EstimateTokens estimates the token cost of one message: ~4 chars per
// token for text/reasoning blocks, 500 tokens flat for any multimodal
// block (image/audio/file).
func EstimateTokens(m *models.Message) int {
	total := 0
	for _, b := range m.Content {
		switch b.Type {
		case models.BlockImage, models.BlockAudio, models.BlockFile:
			total += multimodalTokenCost
		case models.BlockToolUse:
			total += (len(b.ToolName) + len(string(b.ToolInput))) / charsPerToken
		case models.BlockToolResult:
			total += len(string(b.ToolContent)) / charsPerToken
		default:
			total += len(b.Text) / charsPerToken
		}
	}
	return total
}

// Analyze estimates total token usage across messages and reports
// whether compression should run.
func (m *Manager) Analyze(messages []*models.Message) Analysis {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}
	return Analysis{TotalTokens: total, ShouldCompress: total > m.cfg.MaxTokens}
}

// CompressResult is what compress(...) returns.
type CompressResult struct {
	Summary           *models.Message
	RemovedMessages   []*models.Message
	RetainedMessages  []*models.Message
	Ratio             float64
	Window            *models.HistoryWindow
	CompressionRecord *models.CompressionRecord
	RecoveredFiles    []*models.RecoveredFile
}

// RecoveredFileSource supplies the FilePool's accessed-file set so
// compress can snapshot recently touched files alongside the summary.
type RecoveredFileSource interface {
	RecentlyAccessed(limit int) []*models.RecoveredFile
}

// Compress implements spec §4.8's six-step algorithm. windowID and
// recordID are caller-supplied IDs (idgen-produced) so Manager stays
// free of ID-generation policy.
func (m *Manager) Compress(
	messages []*models.Message,
	events []models.Envelope,
	files RecoveredFileSource,
	windowID, recordID string,
	now time.Time,
) CompressResult {
	analysis := m.Analyze(messages)

	window := &models.HistoryWindow{
		ID:       windowID,
		Messages: append([]*models.Message(nil), messages...),
		Events:   append([]models.Envelope(nil), events...),
		Stats: map[string]any{
			"input_tokens": analysis.TotalTokens,
		},
		Timestamp: now,
	}

	ratio := math.Max(float64(m.cfg.CompressToTokens)/math.Max(float64(analysis.TotalTokens), 1), 0.6)
	keepCount := int(math.Ceil(float64(len(messages)) * ratio))
	if keepCount > len(messages) {
		keepCount = len(messages)
	}
	keepCount = widenForMultimodal(messages, keepCount, m.cfg.KeepRecentMultimodal)

	cut := len(messages) - keepCount
	if cut < 0 {
		cut = 0
	}
	removed := messages[:cut]
	retained := messages[cut:]

	summaryText := buildSummary(removed)
	summary := &models.Message{
		ID:   fmt.Sprintf("sysmsg_%s", windowID),
		Role: models.RoleSystem,
		Content: []models.ContentBlock{{
			Type: models.BlockText,
			Text: fmt.Sprintf("<context-summary timestamp=%s window=%s>%s</context-summary>", now.Format(time.RFC3339), windowID, summaryText),
		}},
	}

	var recovered []*models.RecoveredFile
	if files != nil {
		recovered = files.RecentlyAccessed(5)
	}
	fileIDs := make([]string, len(recovered))
	for i, f := range recovered {
		fileIDs[i] = f.ID
	}

	record := &models.CompressionRecord{
		ID:        recordID,
		WindowID:  windowID,
		Summary:   truncate(summaryText, 500),
		Ratio:     ratio,
		FileIDs:   fileIDs,
		Timestamp: now,
	}

	return CompressResult{
		Summary:           summary,
		RemovedMessages:   removed,
		RetainedMessages:  retained,
		Ratio:             ratio,
		Window:            window,
		CompressionRecord: record,
		RecoveredFiles:    recovered,
	}
}

// widenForMultimodal increases keepCount (if needed) so that at least
// keepRecent of the most recent multimodal blocks across all messages
// fall within the retained tail.
func widenForMultimodal(messages []*models.Message, keepCount, keepRecent int) int {
	if keepRecent <= 0 || keepCount >= len(messages) {
		return keepCount
	}
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].HasMultimodal() {
			seen++
			needed := len(messages) - i
			if needed > keepCount {
				keepCount = needed
			}
			if seen >= keepRecent {
				break
			}
		}
	}
	if keepCount > len(messages) {
		keepCount = len(messages)
	}
	return keepCount
}

// buildSummary renders a plain-text digest of removed messages: one
// header line per message plus a truncated preview of each block.
func buildSummary(removed []*models.Message) string {
	var b strings.Builder
	for _, m := range removed {
		fmt.Fprintf(&b, "[%s %s]\n", m.Role, m.ID)
		for _, block := range m.Content {
			switch block.Type {
			case models.BlockImage, models.BlockAudio, models.BlockFile:
				fmt.Fprintf(&b, "  [image-summary id=%s mime=%s note=source=%s]\n", blockID(block), block.MimeType, blockSource(block))
			case models.BlockToolUse:
				fmt.Fprintf(&b, "  [tool] %s(%s)\n", block.ToolName, truncate(string(block.ToolInput), 100))
			case models.BlockToolResult:
				fmt.Fprintf(&b, "  [result] %s\n", truncate(string(block.ToolContent), 100))
			default:
				fmt.Fprintf(&b, "  %s\n", truncate(block.Text, 100))
			}
		}
	}
	return b.String()
}

// blockID picks whichever identifying field a multimodal block carries.
func blockID(b models.ContentBlock) string {
	if b.FileID != "" {
		return b.FileID
	}
	if b.ToolUseID != "" {
		return b.ToolUseID
	}
	return "-"
}

// blockSource names which transport carried the multimodal payload.
func blockSource(b models.ContentBlock) string {
	switch {
	case b.URL != "":
		return "url"
	case b.FileID != "":
		return "file_id"
	case b.Base64 != "":
		return "base64"
	default:
		return "unknown"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
