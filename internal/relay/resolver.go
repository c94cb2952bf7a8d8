// Package relay implements card-link resolution: the one-time activation and
// message-binding state machine behind the public resolve endpoint.
//
// A card-link moves CREATED -> ACTIVATED -> BOUND. Activation stamps
// FirstUsedAt on the first lookup; binding pins the link to the earliest
// qualifying message. Both transitions are conditional updates in the store,
// so concurrent resolves of the same fresh link converge on one winner and
// every later lookup replays the bound message unchanged.
package relay

import (
	"fmt"
	"log"
	"time"

	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/cardrelay/cardrelay/internal/rules"
)

// Result is the outcome of one resolve call. Exactly one of the two variants
// is populated: a success carries the resolved content and link metadata, a
// failure carries Err wrapping one of the relay error classes. Responses are
// always well-formed; pollers rely on never seeing an empty body.
type Result struct {
	Success     bool
	Message     string // resolved message content, "" when none has qualified yet
	FirstUsedAt *time.Time
	ExpiryDays  *int
	IsExpired   bool
	RawMessage  *database.Message
	Err         error
}

func failure(err error) Result {
	return Result{Success: false, Err: err}
}

// Resolver drives card-link resolution against the store
type Resolver struct {
	db *database.DB

	// now is swappable for tests
	now func() time.Time
}

// New creates a Resolver
func New(db *database.DB) *Resolver {
	return &Resolver{db: db, now: time.Now}
}

// Resolve looks up a card-link and returns the message bound to it, binding
// one first if necessary.
//
// An already-bound link is the fast path: the bound message is returned
// verbatim with only the expiry recomputed; neither the message query nor
// the rule pipeline runs again. An unbound link is activated (once), then
// the earliest message received after activation is filtered through the
// link's template and bound. phone, when non-empty, narrows the candidate
// query by sender; otherwise the link's own phone scope applies.
func (r *Resolver) Resolve(cardKey, phone string) Result {
	link, err := r.db.GetCardLinkByKey(cardKey)
	if err != nil {
		return failure(fmt.Errorf("%w: loading card-link: %v", ErrStorage, err))
	}
	if link == nil {
		return failure(fmt.Errorf("%w: card-link not found", ErrNotFound))
	}

	if link.MessageID != nil {
		return r.boundResult(link)
	}

	if link.FirstUsedAt == nil {
		ts := r.now().UTC()
		won, err := r.db.MarkCardLinkFirstUsed(link.CardKey, ts)
		if err != nil {
			return failure(fmt.Errorf("%w: activating card-link: %v", ErrStorage, err))
		}
		if won {
			link.FirstUsedAt = &ts
		} else {
			// Lost the activation race; re-read to observe the winner's
			// timestamp (and possibly its binding).
			link, err = r.db.GetCardLinkByKey(cardKey)
			if err != nil || link == nil {
				return failure(fmt.Errorf("%w: re-reading card-link: %v", ErrStorage, err))
			}
			if link.MessageID != nil {
				return r.boundResult(link)
			}
		}
	}

	candidate, err := r.db.EarliestMessageAfter(link.Username, *link.FirstUsedAt, r.phoneFilter(link, phone))
	if err != nil {
		return failure(fmt.Errorf("%w: querying messages: %v", ErrStorage, err))
	}

	var candidates []database.Message
	if candidate != nil {
		candidates = []database.Message{*candidate}
	}

	if link.TemplateID != nil {
		tmpl, err := r.db.GetTemplateByID(*link.TemplateID)
		if err != nil {
			return failure(fmt.Errorf("%w: loading template: %v", ErrStorage, err))
		}
		if tmpl == nil {
			// The referenced template was deleted. The link keeps working
			// unfiltered rather than erroring out.
			log.Printf("card-link %s references missing template %d, skipping rule filtering", link.CardKey, *link.TemplateID)
		} else {
			candidates = rules.Apply(candidates, tmpl)
		}
	}

	if len(candidates) > 0 {
		chosen := candidates[0]
		won, err := r.db.BindCardLinkMessage(link.CardKey, chosen.ID)
		if err != nil {
			return failure(fmt.Errorf("%w: binding message: %v", ErrStorage, err))
		}
		if !won {
			// A concurrent resolve bound first; replay its choice.
			link, err = r.db.GetCardLinkByKey(cardKey)
			if err != nil || link == nil {
				return failure(fmt.Errorf("%w: re-reading card-link: %v", ErrStorage, err))
			}
			return r.boundResult(link)
		}
		link.MessageID = &chosen.ID
		return r.success(link, &chosen)
	}

	// Nothing has qualified yet; the caller polls again later.
	return r.success(link, nil)
}

// boundResult serves the idempotent fast path for an already-bound link
func (r *Resolver) boundResult(link *database.CardLink) Result {
	msg, err := r.db.GetMessageByID(*link.MessageID)
	if err != nil {
		return failure(fmt.Errorf("%w: loading bound message: %v", ErrStorage, err))
	}
	if msg == nil {
		return failure(fmt.Errorf("%w: bound message %d no longer exists", ErrNotFound, *link.MessageID))
	}
	return r.success(link, msg)
}

func (r *Resolver) success(link *database.CardLink, msg *database.Message) Result {
	res := Result{
		Success:     true,
		FirstUsedAt: link.FirstUsedAt,
		ExpiryDays:  link.ExpiryDays,
		IsExpired:   r.isExpired(link),
	}
	if msg != nil {
		res.Message = msg.SmsContent
		res.RawMessage = msg
	}
	return res
}

// isExpired computes the relative expiry window: a link with ExpiryDays set
// expires that many days after its activation. No expiry days, or no
// activation yet, means never expired.
func (r *Resolver) isExpired(link *database.CardLink) bool {
	if link.ExpiryDays == nil || link.FirstUsedAt == nil {
		return false
	}
	window := time.Duration(*link.ExpiryDays) * 24 * time.Hour
	return r.now().Sub(*link.FirstUsedAt) > window
}

// phoneFilter picks the sender filter for the candidate query: an explicit
// per-request phone wins over the link's own phone scope.
func (r *Resolver) phoneFilter(link *database.CardLink, phone string) string {
	if phone != "" {
		return phone
	}
	return link.Phone
}
