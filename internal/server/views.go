package server

import "github.com/sells-group/deal-pipeline/internal/model"

// dealView is a deal with its uid, as served by the API.
type dealView struct {
	UID string `json:"deal_uid"`
	*model.Deal
}

func newDealView(d *model.Deal) dealView {
	return dealView{UID: d.UID(), Deal: d}
}

func dealViews(deals []model.Deal) []dealView {
	out := make([]dealView, len(deals))
	for i := range deals {
		out[i] = newDealView(&deals[i])
	}
	return out
}
