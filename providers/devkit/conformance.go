package devkit

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/goliatone/go-contact-sync/core"
)

// Collect drains a fetch sequence, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// ValidateProviderConformance checks the invariants every adapter shares:
// stable identity, restartable fetch sequences, and normalized records that
// carry the provider and source ids.
func ValidateProviderConformance(ctx context.Context, provider core.Provider, cred core.ActiveCredential) error {
	if provider == nil {
		return fmt.Errorf("devkit: provider is required")
	}
	providerID := strings.TrimSpace(provider.ID())
	if providerID == "" {
		return fmt.Errorf("devkit: provider id is required")
	}
	if strings.TrimSpace(provider.DisplayName()) == "" {
		return fmt.Errorf("devkit: provider %s display name is required", providerID)
	}
	if _, err := provider.AuthURL(""); err == nil {
		return fmt.Errorf("devkit: provider %s should reject an empty user id", providerID)
	}

	contacts := provider.FetchContacts(ctx, cred)
	first, err := Collect(contacts)
	if err != nil {
		return fmt.Errorf("devkit: provider %s contacts: %w", providerID, err)
	}
	second, err := Collect(contacts)
	if err != nil {
		return fmt.Errorf("devkit: provider %s contacts second pass: %w", providerID, err)
	}
	if len(first) != len(second) {
		return fmt.Errorf("devkit: provider %s contacts not restartable: %d then %d", providerID, len(first), len(second))
	}
	for _, raw := range first {
		normalized := provider.NormalizeContact(raw)
		if normalized.ProviderID != providerID {
			return fmt.Errorf("devkit: provider %s contact %s normalized with provider %q", providerID, raw.ID, normalized.ProviderID)
		}
		if normalized.ProviderContactID != raw.ID || raw.ID == "" {
			return fmt.Errorf("devkit: provider %s contact id %q not carried through", providerID, raw.ID)
		}
	}

	interactions, err := Collect(provider.FetchInteractions(ctx, cred))
	if err != nil {
		return fmt.Errorf("devkit: provider %s interactions: %w", providerID, err)
	}
	for _, raw := range interactions {
		normalized := provider.NormalizeInteraction(raw)
		if normalized.ProviderID != providerID || normalized.InteractionID != raw.ID {
			return fmt.Errorf("devkit: provider %s interaction %s not normalized", providerID, raw.ID)
		}
		if strings.TrimSpace(normalized.ProviderContactID) == "" {
			return fmt.Errorf("devkit: provider %s interaction %s has no contact id", providerID, raw.ID)
		}
	}
	return nil
}
