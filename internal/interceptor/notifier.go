package interceptor

import (
	"strconv"
	"sync"

	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
)

// Notification est le message "capture" envoyé hors du contexte de la page.
type Notification = domain.CapturedSubtitle

// Notifier est un canal à sens unique, best-effort (au plus une fois):
// si le consommateur est trop lent, la notification est perdue.
// La dernière paire (url, contenu) envoyée sert de cache à 1 slot pour
// supprimer les doublons.
type Notifier struct {
	mu     sync.Mutex
	ch     chan Notification
	last   string
	closed bool
}

func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 16
	}
	return &Notifier{ch: make(chan Notification, buffer)}
}

func (n *Notifier) C() <-chan Notification {
	return n.ch
}

// Notify renvoie true si la notification a été émise.
func (n *Notifier) Notify(note Notification) bool {
	key := dedupKey(note)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || key == n.last {
		return false
	}
	select {
	case n.ch <- note:
		n.last = key
		return true
	default:
		// consommateur saturé: perdu, et une redélivrance reste possible
		return false
	}
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.ch)
}

// Un intercepteur peut servir plusieurs onglets (proxy): l'onglet fait partie
// de la clé pour garder une déduplication par page.
func dedupKey(note Notification) string {
	return domain.ShortHash(note.SourceURL) + ":" + domain.ShortHash(note.CanonicalText) + ":" + domain.ShortHash(note.PageURL) + ":" + strconv.Itoa(note.TabID)
}
