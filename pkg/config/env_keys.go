package config

// EnvPrefix scopes every environment variable this service reads.
const EnvPrefix = "STOCKROOM"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "STOCKROOM_APP_ENV"
	EnvPort   = "STOCKROOM_APP_PORT"

	EnvDBDSN  = "STOCKROOM_DB_DSN"
	EnvDBHost = "STOCKROOM_DB_HOST"
	EnvDBUser = "STOCKROOM_DB_USER"
	EnvDBName = "STOCKROOM_DB_NAME"

	EnvRedisURL = "STOCKROOM_REDIS_URL"

	EnvDirectoryURL = "STOCKROOM_DIRECTORY_URL"

	EnvGCPProjectID      = "STOCKROOM_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "STOCKROOM_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub   = "STOCKROOM_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubDomainTopic = "STOCKROOM_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub   = "STOCKROOM_PUBSUB_DOMAIN_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
