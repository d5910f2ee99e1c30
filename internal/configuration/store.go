package configuration

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/temirov/gitnotify/internal/repository"
	"github.com/temirov/gitnotify/internal/utils"
)

const (
	loaderMissingMessageConstant              = "configuration loader not configured"
	loadErrorTemplateConstant                 = "unable to load configuration: %w"
	readFileErrorTemplateConstant             = "unable to read configuration file %s: %w"
	parseFileErrorTemplateConstant            = "unable to parse configuration file %s: %w"
	encodeErrorTemplateConstant               = "unable to encode repositories: %w"
	writeFileErrorTemplateConstant            = "unable to write configuration file %s: %w"
	unexpectedDocumentTemplateConstant        = "configuration file %s does not contain a mapping"
	repositoriesKeyConstant                   = "repositories"
	defaultPersistenceFileNameConstant        = "config.yaml"
	temporaryFilePatternConstant              = ".gitnotify-config-*.yaml"
	configurationDirectoryPermissionsConstant = 0o755
	configurationFilePermissionsConstant      = 0o644
	yamlIndentConstant                        = 2
)

// ErrLoaderNotConfigured indicates the store was constructed without a configuration loader.
var ErrLoaderNotConfigured = errors.New(loaderMissingMessageConstant)

// Store loads validated configuration and persists the repository list back to the configuration file.
type Store struct {
	mutex                 sync.Mutex
	loader                *utils.ConfigurationLoader
	configurationFilePath string
	persistencePath       string
	current               Configuration
}

// persistedRepository is the file representation of one repository entry.
type persistedRepository struct {
	Name          string   `yaml:"name"`
	LongName      string   `yaml:"long_name,omitempty"`
	URL           string   `yaml:"url"`
	Channels      []string `yaml:"channels,omitempty"`
	Branches      string   `yaml:"branches,omitempty"`
	CommitMessage string   `yaml:"commit_message,omitempty"`
	CommitLink    string   `yaml:"commit_link,omitempty"`
	GroupHeader   *bool    `yaml:"group_header,omitempty"`
	EnableSnarf   *bool    `yaml:"enable_snarf,omitempty"`
	FetchTimeout  string   `yaml:"fetch_timeout,omitempty"`
}

// NewStore constructs a store reading configurationFilePath (or the loader search paths when empty).
func NewStore(loader *utils.ConfigurationLoader, configurationFilePath string) (*Store, error) {
	if loader == nil {
		return nil, ErrLoaderNotConfigured
	}
	return &Store{loader: loader, configurationFilePath: strings.TrimSpace(configurationFilePath)}, nil
}

// Load reads and validates the configuration. The previous configuration stays current on failure.
func (store *Store) Load() (Configuration, error) {
	var loadedConfiguration Configuration
	metadata, loadError := store.loader.LoadConfiguration(store.configurationFilePath, DefaultValues(), &loadedConfiguration)
	if loadError != nil {
		return Configuration{}, fmt.Errorf(loadErrorTemplateConstant, loadError)
	}
	if validationError := Validate(loadedConfiguration); validationError != nil {
		return Configuration{}, validationError
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.current = loadedConfiguration
	switch {
	case len(store.configurationFilePath) > 0:
		store.persistencePath = store.configurationFilePath
	case len(metadata.ConfigFileUsed) > 0:
		store.persistencePath = metadata.ConfigFileUsed
	default:
		store.persistencePath = defaultPersistenceFileNameConstant
	}
	return loadedConfiguration, nil
}

// Current returns the most recently loaded configuration.
func (store *Store) Current() Configuration {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.current
}

// PersistencePath names the file PersistRepositories writes to.
func (store *Store) PersistencePath() string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if len(store.persistencePath) > 0 {
		return store.persistencePath
	}
	if len(store.configurationFilePath) > 0 {
		return store.configurationFilePath
	}
	return defaultPersistenceFileNameConstant
}

// PersistRepositories replaces the repositories list in the configuration file,
// leaving every other key and comment in place.
func (store *Store) PersistRepositories(repositories []repository.Options) error {
	persistencePath := store.PersistencePath()

	store.mutex.Lock()
	defer store.mutex.Unlock()

	repositoryConfigurations := make([]RepositoryConfiguration, 0, len(repositories))
	persistedRepositories := make([]persistedRepository, 0, len(repositories))
	for _, options := range repositories {
		repositoryConfiguration := RepositoryConfigurationFromOptions(options, store.current.Watch)
		repositoryConfigurations = append(repositoryConfigurations, repositoryConfiguration)
		persistedRepositories = append(persistedRepositories, toPersistedRepository(repositoryConfiguration))
	}

	document, readError := readDocument(persistencePath)
	if readError != nil {
		return readError
	}

	var repositoriesNode yaml.Node
	if encodeError := repositoriesNode.Encode(persistedRepositories); encodeError != nil {
		return fmt.Errorf(encodeErrorTemplateConstant, encodeError)
	}
	setMappingValue(document.Content[0], repositoriesKeyConstant, &repositoriesNode)

	if writeError := writeDocument(persistencePath, document); writeError != nil {
		return writeError
	}
	store.current.Repositories = repositoryConfigurations
	return nil
}

func toPersistedRepository(repositoryConfiguration RepositoryConfiguration) persistedRepository {
	persisted := persistedRepository{
		Name:          repositoryConfiguration.Name,
		LongName:      repositoryConfiguration.LongName,
		URL:           repositoryConfiguration.URL,
		Channels:      repositoryConfiguration.Channels,
		Branches:      repositoryConfiguration.Branches,
		CommitMessage: repositoryConfiguration.CommitMessage,
		CommitLink:    repositoryConfiguration.CommitLink,
		GroupHeader:   repositoryConfiguration.GroupHeader,
		EnableSnarf:   repositoryConfiguration.EnableSnarf,
	}
	if repositoryConfiguration.FetchTimeout > 0 {
		persisted.FetchTimeout = repositoryConfiguration.FetchTimeout.String()
	}
	return persisted
}

func readDocument(path string) (*yaml.Node, error) {
	contentBytes, readError := os.ReadFile(path)
	if readError != nil && !errors.Is(readError, os.ErrNotExist) {
		return nil, fmt.Errorf(readFileErrorTemplateConstant, path, readError)
	}

	document := &yaml.Node{}
	if len(bytes.TrimSpace(contentBytes)) > 0 {
		if unmarshalError := yaml.Unmarshal(contentBytes, document); unmarshalError != nil {
			return nil, fmt.Errorf(parseFileErrorTemplateConstant, path, unmarshalError)
		}
	}

	if document.Kind == 0 {
		document.Kind = yaml.DocumentNode
	}
	if len(document.Content) == 0 {
		document.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if document.Kind != yaml.DocumentNode || document.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf(unexpectedDocumentTemplateConstant, path)
	}
	return document, nil
}

func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for index := 0; index+1 < len(mapping.Content); index += 2 {
		if mapping.Content[index].Value == key {
			mapping.Content[index+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

func writeDocument(path string, document *yaml.Node) error {
	var buffer bytes.Buffer
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(yamlIndentConstant)
	if encodeError := encoder.Encode(document); encodeError != nil {
		return fmt.Errorf(encodeErrorTemplateConstant, encodeError)
	}
	if closeError := encoder.Close(); closeError != nil {
		return fmt.Errorf(encodeErrorTemplateConstant, closeError)
	}

	directory := filepath.Dir(path)
	if mkdirError := os.MkdirAll(directory, configurationDirectoryPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(writeFileErrorTemplateConstant, path, mkdirError)
	}
	temporaryFile, createError := os.CreateTemp(directory, temporaryFilePatternConstant)
	if createError != nil {
		return fmt.Errorf(writeFileErrorTemplateConstant, path, createError)
	}
	temporaryPath := temporaryFile.Name()
	_, writeError := temporaryFile.Write(buffer.Bytes())
	closeError := temporaryFile.Close()
	if writeError == nil {
		writeError = closeError
	}
	if writeError == nil {
		writeError = os.Chmod(temporaryPath, configurationFilePermissionsConstant)
	}
	if writeError == nil {
		writeError = os.Rename(temporaryPath, path)
	}
	if writeError != nil {
		_ = os.Remove(temporaryPath)
		return fmt.Errorf(writeFileErrorTemplateConstant, path, writeError)
	}
	return nil
}
