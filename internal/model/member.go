package model

type (
	// Member is a connection that has joined a room.
	Member struct {
		ID   string `bson:"_id" json:"id"`
		Name string `bson:"name" json:"name"`
		Room string `bson:"room" json:"room"`
	}
)
