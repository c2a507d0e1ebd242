package booking

import "github.com/Krishnamurari7/urban-services-platform/internal/model"

type edge struct {
	from, to model.Status
}

// edges is the complete transition graph.  Anything not listed is an
// invalid transition for every role, which also makes completed and
// cancelled dead ends.
var edges = map[edge]bool{
	{model.StatusPending, model.StatusAccepted}:     true,
	{model.StatusPending, model.StatusCancelled}:    true,
	{model.StatusAccepted, model.StatusOnTheWay}:    true,
	{model.StatusAccepted, model.StatusCancelled}:   true,
	{model.StatusOnTheWay, model.StatusInProgress}:  true,
	{model.StatusOnTheWay, model.StatusCancelled}:   true,
	{model.StatusInProgress, model.StatusCompleted}: true,
	{model.StatusInProgress, model.StatusCancelled}: true,
}

// capabilities lists the edges each role may drive.  Admins are handled
// in Allowed: they may take any edge of the graph.
var capabilities = map[model.Role]map[edge]bool{
	model.RoleCustomer: {
		{model.StatusPending, model.StatusCancelled}:  true,
		{model.StatusAccepted, model.StatusCancelled}: true,
	},
	model.RoleProfessional: {
		{model.StatusPending, model.StatusAccepted}:     true,
		{model.StatusAccepted, model.StatusOnTheWay}:    true,
		{model.StatusOnTheWay, model.StatusInProgress}:  true,
		{model.StatusInProgress, model.StatusCompleted}: true,
	},
	model.RoleSystem: {
		{model.StatusPending, model.StatusAccepted}: true,
	},
}

// paymentGated edges require payment_status == completed.
var paymentGated = map[edge]bool{
	{model.StatusPending, model.StatusAccepted}:    true,
	{model.StatusOnTheWay, model.StatusInProgress}: true,
}

// ValidEdge reports whether from→to is in the transition graph.
func ValidEdge(from, to model.Status) bool {
	return edges[edge{from, to}]
}

// Allowed is the single capability check for transitions: it reports
// whether role may move a booking from → to.  It returns false for edges
// outside the graph.
func Allowed(role model.Role, from, to model.Status) bool {
	e := edge{from, to}
	if !edges[e] {
		return false
	}
	if role == model.RoleAdmin {
		return true
	}
	return capabilities[role][e]
}

// RequiresPayment reports whether entering to from from needs a completed
// payment.
func RequiresPayment(from, to model.Status) bool {
	return paymentGated[edge{from, to}]
}

// CanView reports whether actor may read b.  Professionals may also see
// unassigned pending bookings, which they can claim by accepting.
func CanView(b model.Booking, actor model.Actor) bool {
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		return true
	case model.RoleCustomer:
		return b.CustomerID == actor.ID
	case model.RoleProfessional:
		if b.ProfessionalID == nil {
			return b.Status == model.StatusPending
		}
		return *b.ProfessionalID == actor.ID
	}
	return false
}
