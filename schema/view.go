package schema

// HistoryFilter narrows the history panel to a kind of entry.
type HistoryFilter string

const (
	// HistoryFilterAll shows every entry.
	HistoryFilterAll HistoryFilter = "all"
	// HistoryFilterAI shows AI entries only.
	HistoryFilterAI HistoryFilter = "ai"
	// HistoryFilterTerminal shows terminal entries only.
	HistoryFilterTerminal HistoryFilter = "terminal"
)

// ViewState is the persisted UI selection snapshot.
type ViewState struct {
	ShowHistoryPanel   bool          `json:"showHistoryPanel" yaml:"showHistoryPanel"`
	ShowTabSearch      bool          `json:"showTabSearch" yaml:"showTabSearch"`
	ShowCommandPalette bool          `json:"showCommandPalette" yaml:"showCommandPalette"`
	ActiveSessionID    SessionID     `json:"activeSessionId" yaml:"activeSessionId"`
	ActiveTabID        TabID         `json:"activeTabId" yaml:"activeTabId"`
	InputMode          InputMode     `json:"inputMode" yaml:"inputMode"`
	HistoryFilter      HistoryFilter `json:"historyFilter" yaml:"historyFilter"`
	HistorySearchQuery string        `json:"historySearchQuery" yaml:"historySearchQuery"`
	HistorySearchOpen  bool          `json:"historySearchOpen" yaml:"historySearchOpen"`
	SavedAt            int64         `json:"savedAt" yaml:"savedAt"`
}

// DefaultViewState returns the hard defaults used when nothing fresh is persisted.
func DefaultViewState() ViewState {
	return ViewState{
		InputMode:     InputModeAI,
		HistoryFilter: HistoryFilterAll,
	}
}

// ViewStatePatch is a partial update; nil fields are left untouched.
type ViewStatePatch struct {
	ShowHistoryPanel   *bool
	ShowTabSearch      *bool
	ShowCommandPalette *bool
	ActiveSessionID    *SessionID
	ActiveTabID        *TabID
	InputMode          *InputMode
	HistoryFilter      *HistoryFilter
	HistorySearchQuery *string
	HistorySearchOpen  *bool
}

// Apply writes the non-nil patch fields onto state.
func (p ViewStatePatch) Apply(state *ViewState) {
	if state == nil {
		return
	}
	if p.ShowHistoryPanel != nil {
		state.ShowHistoryPanel = *p.ShowHistoryPanel
	}
	if p.ShowTabSearch != nil {
		state.ShowTabSearch = *p.ShowTabSearch
	}
	if p.ShowCommandPalette != nil {
		state.ShowCommandPalette = *p.ShowCommandPalette
	}
	if p.ActiveSessionID != nil {
		state.ActiveSessionID = *p.ActiveSessionID
	}
	if p.ActiveTabID != nil {
		state.ActiveTabID = *p.ActiveTabID
	}
	if p.InputMode != nil {
		state.InputMode = *p.InputMode
	}
	if p.HistoryFilter != nil {
		state.HistoryFilter = *p.HistoryFilter
	}
	if p.HistorySearchQuery != nil {
		state.HistorySearchQuery = *p.HistorySearchQuery
	}
	if p.HistorySearchOpen != nil {
		state.HistorySearchOpen = *p.HistorySearchOpen
	}
}

// ScrollRegion names a scrollable view region.
type ScrollRegion string

const (
	// ScrollAILogs is the AI log viewport.
	ScrollAILogs ScrollRegion = "ai_logs"
	// ScrollShellLogs is the terminal log viewport.
	ScrollShellLogs ScrollRegion = "shell_logs"
	// ScrollHistory is the history panel.
	ScrollHistory ScrollRegion = "history"
)

// ScrollPositions is the persisted scroll offset per region.
type ScrollPositions struct {
	Regions map[ScrollRegion]float64 `json:"regions" yaml:"regions"`
	SavedAt int64                    `json:"savedAt" yaml:"savedAt"`
}
