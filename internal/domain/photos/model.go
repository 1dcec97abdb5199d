package photos

import "time"

// Angle es el encuadre de la foto capilar.
// @Enum VERTEX, HAIRLINE, TEMPLES, LEFT_SIDE, RIGHT_SIDE, BACK
type Angle string

const (
	AngleVertex    Angle = "VERTEX"
	AngleHairline  Angle = "HAIRLINE"
	AngleTemples   Angle = "TEMPLES"
	AngleLeftSide  Angle = "LEFT_SIDE"
	AngleRightSide Angle = "RIGHT_SIDE"
	AngleBack      Angle = "BACK"
)

func (a Angle) Valid() bool {
	switch a {
	case AngleVertex, AngleHairline, AngleTemples, AngleLeftSide, AngleRightSide, AngleBack:
		return true
	}
	return false
}

// Photo es la metadata que expone la capa de fotos (el contenido cifrado vive fuera de este servicio).
type Photo struct {
	ID          string
	OwnerUserID string

	// Filename es el nombre cifrado del blob, nunca el nombre original.
	Filename string
	Angle    Angle

	CaptureDate time.Time
	UploadedAt  time.Time

	IsDeleted bool
}
