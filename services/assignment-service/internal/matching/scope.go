package matching

import (
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
)

// Scope is one pass of the candidate search. Scopes run in order and the first one that
// yields a provider wins, so earlier scopes take precedence over any ranking in later ones.
type Scope struct {
	Name  string
	Query func(req model.Requirement, categoryID string) storage.ProviderQuery
}

var (
	ExactArea = Scope{
		Name: "exact_area",
		Query: func(req model.Requirement, categoryID string) storage.ProviderQuery {
			return storage.ProviderQuery{CategoryID: categoryID, CityID: req.CityID, AreaID: req.AreaID}
		},
	}
	CityWide = Scope{
		Name: "city_wide",
		Query: func(req model.Requirement, categoryID string) storage.ProviderQuery {
			return storage.ProviderQuery{CategoryID: categoryID, CityID: req.CityID}
		},
	}
)

func DefaultScopes() []Scope {
	return []Scope{ExactArea, CityWide}
}
