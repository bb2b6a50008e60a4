package dataimporter

import (
	"fmt"
	"time"

	"github.com/schoolrun/schoolrun/pkg/model"
)

// CSV record shapes as the school operators export them. Each converts into
// the internal document it is imported as.

type RouteRecord struct {
	RouteID   string  `csv:"route_id"`
	Name      string  `csv:"route_name"`
	SchoolID  string  `csv:"school_id"`
	SchoolLat float64 `csv:"school_lat"`
	SchoolLon float64 `csv:"school_lon"`
}

func (r *RouteRecord) ToRoute() *model.Route {
	now := time.Now()

	return &model.Route{
		PrimaryIdentifier: fmt.Sprintf("ROUTE:%s", r.RouteID),

		CreationDateTime:     now,
		ModificationDateTime: now,

		Name:             r.Name,
		SchoolIdentifier: r.SchoolID,

		SchoolLocation: model.NewLocation(r.SchoolLat, r.SchoolLon),
	}
}

type StopRecord struct {
	StopID  string `csv:"stop_id"`
	RouteID string `csv:"route_id"`

	Name  string `csv:"stop_name"`
	Order int    `csv:"stop_order"`

	Latitude  float64 `csv:"latitude"`
	Longitude float64 `csv:"longitude"`

	ScheduledArrival string `csv:"scheduled_arrival"`
}

func (r *StopRecord) ToStop() *model.Stop {
	return &model.Stop{
		PrimaryIdentifier: fmt.Sprintf("STOP:%s", r.StopID),

		RouteIdentifier: fmt.Sprintf("ROUTE:%s", r.RouteID),

		Name:  r.Name,
		Order: r.Order,

		Location: model.NewLocation(r.Latitude, r.Longitude),

		ScheduledArrival: r.ScheduledArrival,
	}
}

type StudentRecord struct {
	StudentID    string `csv:"student_id"`
	Name         string `csv:"student_name"`
	ParentUserID string `csv:"parent_user_id"`

	RouteID         string `csv:"route_id"`
	PickupStopOrder int    `csv:"pickup_stop_order"`

	PickupLat float64 `csv:"pickup_lat"`
	PickupLon float64 `csv:"pickup_lon"`
	DropLat   float64 `csv:"drop_lat"`
	DropLon   float64 `csv:"drop_lon"`
}

func (r *StudentRecord) ToStudent() *model.Student {
	return &model.Student{
		PrimaryIdentifier: fmt.Sprintf("STUDENT:%s", r.StudentID),

		Name:         r.Name,
		ParentUserID: r.ParentUserID,

		RouteIdentifier: fmt.Sprintf("ROUTE:%s", r.RouteID),
		PickupStopOrder: r.PickupStopOrder,

		PickupLocation: model.NewLocation(r.PickupLat, r.PickupLon),
		DropLocation:   model.NewLocation(r.DropLat, r.DropLon),
	}
}
