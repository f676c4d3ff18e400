package metric

// Kind can be one of:
//   - water (mL)
//   - calorie (kcal)
//   - workout (minutes)
//   - sleep (minutes)
//   - steps (count)
//   - weight (kg)
type Kind string

const (
	Water   Kind = "water"
	Calorie Kind = "calorie"
	Workout Kind = "workout"
	Sleep   Kind = "sleep"
	Steps   Kind = "steps"
	Weight  Kind = "weight"
)

// All lists every kind in display order.
var All = []Kind{Water, Calorie, Steps, Sleep, Workout, Weight}

func (k Kind) String() string {
	return string(k)
}

func (k Kind) IsValid() bool {
	switch k {
	case Water, Calorie, Workout, Sleep, Steps, Weight:
		return true
	default:
		return false
	}
}

// Unit of the amounts logged for the kind.
func (k Kind) Unit() string {
	switch k {
	case Water:
		return "ml"
	case Calorie:
		return "kcal"
	case Workout, Sleep:
		return "min"
	case Steps:
		return "steps"
	case Weight:
		return "kg"
	default:
		return ""
	}
}

// GoalUnit is the unit goals are expressed in. Sleep and workout goals are
// set in hours while their events are logged in minutes.
func (k Kind) GoalUnit() string {
	switch k {
	case Workout, Sleep:
		return "h"
	default:
		return k.Unit()
	}
}

// GoalFactor converts a goal target into amount units.
func (k Kind) GoalFactor() float64 {
	switch k {
	case Workout, Sleep:
		return 60
	default:
		return 1
	}
}

// Period is the bucket granularity a goal of this kind applies to.
// Workout goals are monthly, everything else is daily.
func (k Kind) Period() Period {
	if k == Workout {
		return PeriodMonth
	}
	return PeriodDay
}

// Additive kinds sum their events per bucket. Weight is a level: the bucket
// value is the single sample of that day.
func (k Kind) Additive() bool {
	return k != Weight
}

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// WorkoutType is the qualifier of workout events and goals.
type WorkoutType string

const (
	WorkoutStrength WorkoutType = "strength"
	WorkoutCardio   WorkoutType = "cardio"
	WorkoutYoga     WorkoutType = "yoga"
	WorkoutSwimming WorkoutType = "swimming"
	WorkoutOther    WorkoutType = "other"
)

// WorkoutTypes is the canonical, ordered list of workout types.
var WorkoutTypes = []WorkoutType{
	WorkoutStrength,
	WorkoutCardio,
	WorkoutYoga,
	WorkoutSwimming,
	WorkoutOther,
}

func (wt WorkoutType) IsValid() bool {
	switch wt {
	case WorkoutStrength, WorkoutCardio, WorkoutYoga, WorkoutSwimming, WorkoutOther:
		return true
	default:
		return false
	}
}

// AttrWorkoutType is the event attribute holding the workout type.
const AttrWorkoutType = "type"
