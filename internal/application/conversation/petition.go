package conversation

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/channel"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
)

// Petition is a parameterless request recognized by the NLU agent.
type Petition string

const PetitionMeme Petition = "Meme"

// NLU payload keys.
const (
	payloadCommand  = "comando"
	payloadPetition = "peticion"
)

// media serves the fixed assets under the media folder.
type media struct {
	folder  string
	content ContentStore
	cache   Cache
	channel channel.MessageChannel
	pick    func(n int) int
}

func (m *media) keys(ctx context.Context, sub string) ([]string, error) {
	prefix := m.folder + "/" + sub
	if keys, ok := m.cache.Get(ctx, prefix); ok {
		return keys, nil
	}
	all, err := m.content.ListObjectsUnder(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if catalog.IsFileKey(k) {
			keys = append(keys, k)
		}
	}
	m.cache.Set(ctx, prefix, keys)
	return keys, nil
}

// send delivers one media key as an attachment.
func (m *media) send(ctx context.Context, userID int64, key string) error {
	url, err := m.content.GetPublicURL(ctx, key)
	if err != nil {
		return shared.Internal("media", "GetPublicURL", "failed to resolve "+key, err)
	}
	if _, err := m.channel.SendAttachment(ctx, userID, channel.Attachment{Type: catalog.TypeForKey(key), URL: url}); err != nil {
		return shared.Transport("media", "SendAttachment", "failed to send "+key, err)
	}
	return nil
}

func (m *media) sendWelcome(ctx context.Context, userID int64) error {
	keys, err := m.keys(ctx, "welcome")
	if err != nil {
		return shared.Internal("media", "Welcome", "failed to list welcome files", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return m.send(ctx, userID, keys[0])
}

func (m *media) sendRandom(ctx context.Context, userID int64, sub string) error {
	keys, err := m.keys(ctx, sub)
	if err != nil {
		return shared.Internal("media", "Random", "failed to list "+sub, err)
	}
	if len(keys) == 0 {
		return shared.Resolution("media", "Random", "no files under "+sub)
	}
	return m.send(ctx, userID, keys[m.pick(len(keys))])
}

func defaultPick(n int) int { return rand.IntN(n) }

// ══════════════════════════════════════════════════════════════════════════════
// NLU PAYLOAD ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// processIntentPayload routes a structured NLU reply to a command or petition.
func (o *Orchestrator) processIntentPayload(ctx context.Context, u *user.User, intent Intent) error {
	if cmd := intent.Payload[payloadCommand]; cmd != "" {
		return o.dispatcher.Execute(ctx, u, cmd, Args{Params: intent.Parameters})
	}
	if p := intent.Payload[payloadPetition]; p != "" {
		return o.executePetition(ctx, u, Petition(p), intent.Text)
	}
	return shared.Protocol("orchestrator", "ProcessIntentPayload", fmt.Sprintf("no handler for payload %v", intent.Payload))
}

func (o *Orchestrator) executePetition(ctx context.Context, u *user.User, p Petition, text string) error {
	switch p {
	case PetitionMeme:
		if err := o.channel.SendText(ctx, u.ID, text, false); err != nil {
			return shared.Transport("orchestrator", "Meme", "failed to send text", err)
		}
		return o.media.sendRandom(ctx, u.ID, "memes")
	default:
		return shared.Resolution("orchestrator", "ExecutePetition", "unknown petition "+string(p))
	}
}
