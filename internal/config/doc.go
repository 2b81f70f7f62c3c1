// Package config holds the options of a roundscout node and loads them
// from the .roundscout YAML file, a dotenv file and the environment.
//
// Credentials for the crawled source only ever come from the environment
// (TWITTER_USERNAME, TWITTER_PASSWORD, TWITTER_VERIFICATION), so the YAML
// file can be shared between nodes.
package config
