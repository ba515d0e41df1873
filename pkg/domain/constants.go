package domain

// Schema field names. These are the first-class properties every entity understands;
// anything else arriving in an update is stored as a dynamic property.
const (
	FieldName       = "name"
	FieldVisible    = "visible"
	FieldLayerID    = "layerId"
	FieldMaterialID = "materialId"
	FieldTransform  = "transform"

	// FieldCustomProperties holds the dynamic value channel (key -> Value).
	FieldCustomProperties = "customProperties"
	// FieldCustomPropertyTypes holds the dynamic type channel (key -> ValueType).
	FieldCustomPropertyTypes = "customPropertyTypes"
)

// SchemaFields lists the first-class fields in a stable order.
var SchemaFields = []string{FieldName, FieldVisible, FieldLayerID, FieldMaterialID, FieldTransform}

// IsSchemaField reports whether name is a first-class entity field.
func IsSchemaField(name string) bool {
	for _, f := range SchemaFields {
		if f == name {
			return true
		}
	}
	return false
}

// Built-in entity type tags.
const (
	TypeFolder   = "folder"
	TypeGeometry = "geometry"
	TypeMetadata = "metadata"
)
