package recommend

import (
	"fmt"
	"math"

	"github.com/2beens/fittracker/internal/tracker/trackerr"
)

type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

type Activity string

const (
	ActivityLow    Activity = "low"
	ActivityMedium Activity = "medium"
	ActivityHigh   Activity = "high"
)

// GoalType is the body weight direction a calorie target aims for.
type GoalType string

const (
	Lose     GoalType = "lose"
	Maintain GoalType = "maintain"
	Gain     GoalType = "gain"
)

const (
	MinCalories = 800
	MaxCalories = 5000
)

var (
	activityFactors = map[Activity]float64{
		ActivityLow:    1.2,
		ActivityMedium: 1.375,
		ActivityHigh:   1.55,
	}
	waterActivityML = map[Activity]int{
		ActivityLow:    0,
		ActivityMedium: 250,
		ActivityHigh:   500,
	}
	goalFactors = map[GoalType]float64{
		Lose:     0.85,
		Maintain: 1.0,
		Gain:     1.15,
	}
)

// Profile holds the biometrics both calculators need. It is input only and
// never stored.
type Profile struct {
	Gender   Gender   `json:"gender"`
	Age      int      `json:"age"`
	WeightKG float64  `json:"weight_kg"`
	HeightCM float64  `json:"height_cm"`
	Activity Activity `json:"activity"`
}

// CanCalculate reports whether every field of p is present and usable.
// Callers check it before asking for a recommendation.
func CanCalculate(p Profile) bool {
	if p.Gender != Male && p.Gender != Female {
		return false
	}
	if _, ok := activityFactors[p.Activity]; !ok {
		return false
	}
	return p.Age > 0 && positive(p.WeightKG) && positive(p.HeightCM)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func precondition(p Profile) error {
	if !CanCalculate(p) {
		return fmt.Errorf("%w: incomplete biometric profile %+v", trackerr.ErrPrecondition, p)
	}
	return nil
}

// Water recommends a daily intake in mL: 35 mL per kg, +250 mL for men and
// an activity allowance, rounded half up to 100 mL.
func Water(p Profile) (int, error) {
	if err := precondition(p); err != nil {
		return 0, err
	}

	ml := int(math.Round(p.WeightKG * 35))
	if p.Gender == Male {
		ml += 250
	}
	ml += waterActivityML[p.Activity]
	return (ml + 50) / 100 * 100, nil
}

// Estimate is a calorie recommendation. Target is rounded to 50 kcal and
// clamped to [MinCalories, MaxCalories].
type Estimate struct {
	BMR    float64
	TDEE   float64
	Target int
}

// Calories uses the Mifflin–St Jeor equation for the basal metabolic rate,
// scaled by activity and goal type.
func Calories(p Profile, goal GoalType) (Estimate, error) {
	if err := precondition(p); err != nil {
		return Estimate{}, err
	}
	goalFactor, ok := goalFactors[goal]
	if !ok {
		return Estimate{}, fmt.Errorf("%w: goal type [%s]", trackerr.ErrInvalidInput, goal)
	}

	bmr := 10*p.WeightKG + 6.25*p.HeightCM - 5*float64(p.Age)
	if p.Gender == Male {
		bmr += 5
	} else {
		bmr -= 161
	}
	tdee := bmr * activityFactors[p.Activity]

	target := int(math.Round(tdee*goalFactor/50) * 50)
	target = max(MinCalories, min(MaxCalories, target))

	return Estimate{
		BMR:    bmr,
		TDEE:   tdee,
		Target: target,
	}, nil
}
