package queue

// Estimator converts a queue position into a wait estimate. The model is
// deliberately simple: everyone ahead takes one average consultation, spread
// across the doctors currently available.
type Estimator struct {
	avgConsultationMins int
}

func NewEstimator(avgConsultationMins int) *Estimator {
	if avgConsultationMins <= 0 {
		avgConsultationMins = 15
	}
	return &Estimator{avgConsultationMins: avgConsultationMins}
}

// Estimate returns the wait in whole minutes for the given 1-based position.
// Position 1 waits zero minutes. A department with no available doctors is
// treated as having one so the estimate stays finite.
func (e *Estimator) Estimate(position, availableDoctors int) int {
	if position <= 1 {
		return 0
	}
	if availableDoctors < 1 {
		availableDoctors = 1
	}
	return (position - 1) * e.avgConsultationMins / availableDoctors
}
