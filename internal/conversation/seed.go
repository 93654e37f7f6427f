package conversation

import "github.com/csells/vide-cli-sub001/pkg/vide"

// Seed installs conv as the current snapshot without publishing it,
// for use by the Agent Client before any subscriber exists (resume from
// the CLI's own session file, spec §4.F).
func (s *Store) Seed(conv vide.Conversation) {
	s.mu.Lock()
	s.conv = conv
	s.mu.Unlock()
}
