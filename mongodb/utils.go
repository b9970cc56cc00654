package mongodb

import "go.mongodb.org/mongo-driver/v2/mongo/options"

func mongoUniqueIndex() *options.IndexOptionsBuilder {
	return options.Index().SetUnique(true)
}
