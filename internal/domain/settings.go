package domain

type Settings struct {
	// Taille max de l'historique (les plus anciens sont supprimés).
	HistoryMaxSize int `json:"historyMaxSize" validate:"gte=0"`

	// Nombre d'extractions concurrentes côté intercepteur.
	MaxConcurrentExtractions int `json:"maxConcurrentExtractions" validate:"gte=0"`
}

func DefaultSettings() Settings {
	return Settings{
		HistoryMaxSize:           10,
		MaxConcurrentExtractions: 4,
	}
}
