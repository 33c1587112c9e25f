package window

import (
	"testing"

	"github.com/stretchr/testify/require"

	"osqr/internal/model"
)

func msg(id string, role model.Role, content string) model.Message {
	return model.Message{ID: id, Role: role, Content: content, Tokens: model.EstimateTokens(content)}
}

func TestScenarioS3_MessagesModeWithSystemPreserved(t *testing.T) {
	history := []model.Message{
		msg("1", model.RoleSystem, "S1"),
		msg("2", model.RoleUser, "U1"),
		msg("3", model.RoleAssistant, "A1"),
		msg("4", model.RoleUser, "U2"),
		msg("5", model.RoleAssistant, "A2"),
		msg("6", model.RoleUser, "U3"),
	}
	cfg := model.WindowConfig{Mode: model.WindowModeMessages, Size: 2, PreserveSystemMessages: true}
	res, err := Compute(history, cfg)
	require.NoError(t, err)

	ids := make([]string, len(res.Window))
	for i, m := range res.Window {
		ids[i] = m.ID
	}
	// last 2 non-system are "5","6"; system "1" goes first.
	require.Equal(t, []string{"1", "5", "6"}, ids)
}

func TestComputeWorkingWindowSubsetOfHistory(t *testing.T) {
	history := []model.Message{
		msg("1", model.RoleUser, "hello"),
		msg("2", model.RoleAssistant, "world this is a longer reply"),
		msg("3", model.RoleUser, "ok"),
	}
	cfg := model.WindowConfig{Mode: model.WindowModeTokens, Size: 100}
	res, err := Compute(history, cfg)
	require.NoError(t, err)

	inHistory := map[string]bool{}
	for _, m := range history {
		inHistory[m.ID] = true
	}
	var sum int
	for _, m := range res.Window {
		require.True(t, inHistory[m.ID])
		sum += m.Tokens
	}
	require.Equal(t, sum, res.TokensUsed)
	require.LessOrEqual(t, res.TokensUsed, cfg.Size)
}

func TestTokensModeStopsAtFirstRefusal(t *testing.T) {
	history := []model.Message{
		msg("1", model.RoleUser, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), // ~13 tokens
		msg("2", model.RoleUser, "short"),                                          // ~2 tokens
	}
	cfg := model.WindowConfig{Mode: model.WindowModeTokens, Size: 3}
	res, err := Compute(history, cfg)
	require.NoError(t, err)
	// "short" (id 2) fits alone; "aaaa..." (id 1) does not, and the walk
	// stops rather than skipping ahead for something smaller before it.
	require.Len(t, res.Window, 1)
	require.Equal(t, "2", res.Window[0].ID)
}

func TestFullHistoryNeverMutated(t *testing.T) {
	history := []model.Message{msg("1", model.RoleUser, "a")}
	cfg := model.WindowConfig{Mode: model.WindowModeMessages, Size: 1}
	updated, _, err := AddMessage(history, msg("2", model.RoleUser, "b"), cfg)
	require.NoError(t, err)
	require.Len(t, history, 1) // original slice untouched
	require.Len(t, updated, 2)
}

func TestExcludedSummaryEmptyWhenNothingExcluded(t *testing.T) {
	history := []model.Message{msg("1", model.RoleUser, "a")}
	require.Equal(t, "", ExcludedSummary(history, history))
}

func TestInvalidMode(t *testing.T) {
	_, err := Compute(nil, model.WindowConfig{Mode: "bogus"})
	require.Error(t, err)
}
