package dynamo

import (
	"strconv"
	"strings"

	"github.com/zlnvch/pageboard/models"
)

const (
	actionPKPrefix = "ACTION#"
	pagePKPrefix   = "PAGE#"
	clearMarkSK    = "CLEARED"
)

func actionPK(page int) string {
	return actionPKPrefix + strconv.Itoa(page)
}

func pagePK(page int) string {
	return pagePKPrefix + strconv.Itoa(page)
}

type dynamoPoint struct {
	X float64 `dynamodbav:"X"`
	Y float64 `dynamodbav:"Y"`
}

type dynamoAction struct {
	PK         string      `dynamodbav:"PK"`
	SK         string      `dynamodbav:"SK"`
	Prev       dynamoPoint `dynamodbav:"Prev"`
	Current    dynamoPoint `dynamodbav:"Current"`
	Tool       string      `dynamodbav:"Tool"`
	Color      string      `dynamodbav:"Color"`
	StrokeSize float64     `dynamodbav:"StrokeSize"`
}

type dynamoClearMark struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	Before string `dynamodbav:"Before"`
}

// Map domain Action -> Dynamo
func actionToDynamo(a models.Action) dynamoAction {
	return dynamoAction{
		PK:         actionPK(a.Page),
		SK:         a.Id,
		Prev:       dynamoPoint{X: a.Prev.X, Y: a.Prev.Y},
		Current:    dynamoPoint{X: a.Current.X, Y: a.Current.Y},
		Tool:       string(a.Tool),
		Color:      a.Color,
		StrokeSize: a.StrokeSize,
	}
}

// Map Dynamo -> domain Action. The page comes from the partition key.
func actionFromDynamo(da dynamoAction) models.Action {
	page, _ := strconv.Atoi(strings.TrimPrefix(da.PK, actionPKPrefix))
	return models.Action{
		Page:       page,
		Prev:       models.Point{X: da.Prev.X, Y: da.Prev.Y},
		Current:    models.Point{X: da.Current.X, Y: da.Current.Y},
		Tool:       models.Tool(da.Tool),
		Color:      da.Color,
		StrokeSize: da.StrokeSize,
		Id:         da.SK,
	}
}
