package family

// State is the mutually exclusive presentation state of the member view.
// Exactly one state holds at any time; mutations and refreshes move between
// them, the rendering layer only reads.
type State string

const (
	// StateLoading holds from construction until the first refresh completes.
	StateLoading State = "loading"
	// StateDeleting holds while a delete operation is in flight.
	StateDeleting State = "deleting"
	// StateDeleteSucceeded is the transient confirmation shown after a
	// successful delete, cleared by the scheduled refresh.
	StateDeleteSucceeded State = "delete_succeeded"
	// StateUnauthenticated indicates the caller carried no valid identity.
	StateUnauthenticated State = "unauthenticated"
	// StateEmpty indicates a completed refresh yielded no members. Fetch
	// failures also land here: the view fails open to empty.
	StateEmpty State = "empty"
	// StatePopulated indicates a completed refresh with at least one member.
	StatePopulated State = "populated"
)
