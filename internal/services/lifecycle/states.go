package lifecycle

import "wastelink-backend/internal/models"

var requestTransitions = map[models.RequestStatus][]models.RequestStatus{
	models.RequestDraft:      {models.RequestPending, models.RequestCancelled},
	models.RequestPending:    {models.RequestAccepted, models.RequestCancelled},
	models.RequestAccepted:   {models.RequestEnRoute, models.RequestCancelled},
	models.RequestEnRoute:    {models.RequestInProgress, models.RequestCancelled},
	models.RequestInProgress: {models.RequestCompleted, models.RequestCancelled},
}

var jobTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobPending:    {models.JobInProgress, models.JobCancelled},
	models.JobInProgress: {models.JobCompleted, models.JobCancelled},
}

var bidTransitions = map[models.BidStatus][]models.BidStatus{
	models.BidPending: {models.BidAccepted, models.BidRejected, models.BidExpired},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionRequest reports whether a request may move from one status to another.
// Terminal statuses have no outgoing edges.
func CanTransitionRequest(from, to models.RequestStatus) bool {
	return allowed(requestTransitions, from, to)
}

func CanTransitionJob(from, to models.JobStatus) bool {
	return allowed(jobTransitions, from, to)
}

func CanTransitionBid(from, to models.BidStatus) bool {
	return allowed(bidTransitions, from, to)
}

// jobStatusFor is the job status mirrored from a request status, if any
func jobStatusFor(status models.RequestStatus) (models.JobStatus, bool) {
	switch status {
	case models.RequestInProgress:
		return models.JobInProgress, true
	case models.RequestCompleted:
		return models.JobCompleted, true
	case models.RequestCancelled:
		return models.JobCancelled, true
	}
	return "", false
}
