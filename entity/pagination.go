package entity

const (
	MaxLimit     uint32 = 100
	DefaultLimit uint32 = 20
)

type Pagination struct {
	Limit *uint32 `json:"limit,omitempty" schema:"limit"`
	Page  *uint32 `json:"page,omitempty" schema:"page"`
}

func (p *Pagination) GetLimit() uint32 {
	if p != nil && p.Limit != nil && *p.Limit > 0 {
		if *p.Limit > MaxLimit {
			return MaxLimit
		}
		return *p.Limit
	}
	return DefaultLimit
}

func (p *Pagination) GetPage() uint32 {
	if p != nil && p.Page != nil && *p.Page > 0 {
		return *p.Page
	}
	return 1
}

func (p *Pagination) GetOffset() uint32 {
	return (p.GetPage() - 1) * p.GetLimit()
}
