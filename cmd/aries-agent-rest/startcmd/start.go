/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storage/leveldb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/hyperledger/aries-handshake-go/pkg/common/logging"
	"github.com/hyperledger/aries-handshake-go/pkg/controller"
	"github.com/hyperledger/aries-handshake-go/pkg/controller/webnotifier"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport"
	arieshttp "github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport/http"
	"github.com/hyperledger/aries-handshake-go/pkg/didcomm/transport/ws"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries"
	"github.com/hyperledger/aries-handshake-go/pkg/framework/aries/defaults"
	"github.com/hyperledger/aries-handshake-go/pkg/storage/sqlite"
)

const (
	// config file flag.
	configFileFlagName  = "config-file"
	configFileEnvKey    = "ARIESD_CONFIG_FILE"
	configFileFlagUsage = "YAML file holding any of the other options, keyed by their long flag name." +
		" Command line flags and environment variables take precedence over it." +
		" Alternatively, this can be set with the following environment variable: " + configFileEnvKey

	// api host flag.
	agentHostFlagName      = "api-host"
	agentHostEnvKey        = "ARIESD_API_HOST"
	agentHostFlagShorthand = "a"
	agentHostFlagUsage     = "Host Name:Port." +
		" Alternatively, this can be set with the following environment variable: " + agentHostEnvKey

	// api token flag.
	agentTokenFlagName      = "api-token"
	agentTokenEnvKey        = "ARIESD_API_TOKEN" // nolint:gosec
	agentTokenFlagShorthand = "t"
	agentTokenFlagUsage     = "Check for bearer token in the authorization header (optional)." +
		" Alternatively, this can be set with the following environment variable: " + agentTokenEnvKey

	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "ARIESD_DATABASE_TYPE"
	databaseTypeFlagShorthand = "q"
	databaseTypeFlagUsage     = "The type of database to use for connection and invitation records. " +
		"Supported options: mem, leveldb, sqlite. " +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey

	databaseURLFlagName      = "database-url"
	databaseURLEnvKey        = "ARIESD_DATABASE_URL"
	databaseURLFlagShorthand = "v"
	databaseURLFlagUsage     = "The path of the database. Not needed if using memstore." +
		" Alternatively, this can be set with the following environment variable: " + databaseURLEnvKey

	databaseTimeoutFlagName  = "database-timeout"
	databaseTimeoutFlagUsage = "Total time in seconds to wait until the db is available before giving up." +
		" Default: " + databaseTimeoutDefault + " seconds." +
		" Alternatively, this can be set with the following environment variable: " + databaseTimeoutEnvKey
	databaseTimeoutEnvKey  = "ARIESD_DATABASE_TIMEOUT"
	databaseTimeoutDefault = "30"

	// webhook url flag.
	agentWebhookFlagName      = "webhook-url"
	agentWebhookEnvKey        = "ARIESD_WEBHOOK_URL"
	agentWebhookFlagShorthand = "w"
	agentWebhookFlagUsage     = "URL to send notifications to." +
		" This flag can be repeated, allowing for multiple listeners." +
		" Alternatively, this can be set with the following environment variable (in CSV format): " + agentWebhookEnvKey

	// nats url flag.
	agentNATSURLFlagName  = "nats-url"
	agentNATSURLEnvKey    = "ARIESD_NATS_URL"
	agentNATSURLFlagUsage = "NATS server to publish state notifications to (optional)." +
		" Alternatively, this can be set with the following environment variable: " + agentNATSURLEnvKey

	// nats subject prefix flag.
	agentNATSSubjectFlagName  = "nats-subject-prefix"
	agentNATSSubjectEnvKey    = "ARIESD_NATS_SUBJECT_PREFIX"
	agentNATSSubjectFlagUsage = "Prefix of the NATS subjects notifications are published on." +
		" Defaults to " + webnotifier.DefaultSubjectPrefix + " if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentNATSSubjectEnvKey

	// default label flag.
	agentDefaultLabelFlagName      = "agent-default-label"
	agentDefaultLabelEnvKey        = "ARIESD_DEFAULT_LABEL"
	agentDefaultLabelFlagShorthand = "l"
	agentDefaultLabelFlagUsage     = "Default Label for this agent. Defaults to blank if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentDefaultLabelEnvKey

	// log level.
	agentLogLevelFlagName  = "log-level"
	agentLogLevelEnvKey    = "ARIESD_LOG_LEVEL"
	agentLogLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentLogLevelEnvKey
	agentLogLevelDefault = "INFO"

	// outbound transport flag.
	agentOutboundTransportFlagName      = "outbound-transport"
	agentOutboundTransportEnvKey        = "ARIESD_OUTBOUND_TRANSPORT"
	agentOutboundTransportFlagShorthand = "o"
	agentOutboundTransportFlagUsage     = "Outbound transport type." +
		" This flag can be repeated, allowing for multiple transports." +
		" Possible values [http] [ws]. Defaults to http if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentOutboundTransportEnvKey

	agentTLSCertFileFlagName      = "tls-cert-file"
	agentTLSCertFileEnvKey        = "TLS_CERT_FILE"
	agentTLSCertFileFlagShorthand = "c"
	agentTLSCertFileFlagUsage     = "tls certificate file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSCertFileEnvKey

	agentTLSKeyFileFlagName      = "tls-key-file"
	agentTLSKeyFileEnvKey        = "TLS_KEY_FILE"
	agentTLSKeyFileFlagShorthand = "k"
	agentTLSKeyFileFlagUsage     = "tls key file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSKeyFileEnvKey

	// inbound host url flag.
	agentInboundHostFlagName      = "inbound-host"
	agentInboundHostEnvKey        = "ARIESD_INBOUND_HOST"
	agentInboundHostFlagShorthand = "i"
	agentInboundHostFlagUsage     = "Inbound Host Name:Port. This is used internally to start the inbound server." +
		" Values should be in `scheme@url` format." +
		" This flag can be repeated, allowing to configure multiple inbound transports." +
		" Alternatively, this can be set with the following environment variable: " + agentInboundHostEnvKey

	// inbound host external url flag.
	agentInboundHostExternalFlagName      = "inbound-host-external"
	agentInboundHostExternalEnvKey        = "ARIESD_INBOUND_HOST_EXTERNAL"
	agentInboundHostExternalFlagShorthand = "e"
	agentInboundHostExternalFlagUsage     = "Inbound Host External Name:Port and values should be in `scheme@url` format" +
		" This is the URL for the inbound server as seen externally." +
		" If not provided, then the internal inbound host will be used here." +
		" This flag can be repeated, allowing to configure multiple inbound transports." +
		" Alternatively, this can be set with the following environment variable: " + agentInboundHostExternalEnvKey

	// auto accept flag.
	agentAutoAcceptFlagName  = "auto-accept"
	agentAutoAcceptEnvKey    = "ARIESD_AUTO_ACCEPT"
	agentAutoAcceptFlagUsage = "Auto accept connection requests and responses." +
		" Possible values [true] [false]. Defaults to false if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentAutoAcceptEnvKey

	// transport return route option flag.
	agentTransportReturnRouteFlagName  = "transport-return-route"
	agentTransportReturnRouteEnvKey    = "ARIESD_TRANSPORT_RETURN_ROUTE"
	agentTransportReturnRouteFlagUsage = "Transport Return Route option. Possible values [none] [all]." +
		" Alternatively, this can be set with the following environment variable: " + agentTransportReturnRouteEnvKey

	httpProtocol      = "http"
	websocketProtocol = "ws"

	databaseTypeMemOption     = "mem"
	databaseTypeLevelDBOption = "leveldb"
	databaseTypeSQLiteOption  = "sqlite"
)

var (
	errMissingHost = errors.New("host not provided")
	logger         = log.New("aries-framework/agent-rest")
)

type agentParameters struct {
	server                                     server
	host, defaultLabel, transportReturnRoute   string
	tlsCertFile, tlsKeyFile                    string
	token, logLevel                            string
	natsURL, natsSubjectPrefix                 string
	webhookURLs, outboundTransports            []string
	inboundHostInternals, inboundHostExternals []string
	autoAccept                                 bool
	dbParam                                    *dbParam
}

type dbParam struct {
	dbType  string
	url     string
	timeout uint64
}

// nolint:gochecknoglobals
var supportedStorageProviders = map[string]func(url string) (storage.Provider, error){
	databaseTypeMemOption: func(_ string) (storage.Provider, error) { // nolint:unparam
		return mem.NewProvider(), nil
	},
	databaseTypeLevelDBOption: func(path string) (storage.Provider, error) { // nolint:unparam
		return leveldb.NewProvider(path), nil
	},
	databaseTypeSQLiteOption: func(path string) (storage.Provider, error) {
		return sqlite.NewProvider(path)
	},
}

type server interface {
	ListenAndServe(host string, router http.Handler, certFile, keyFile string) error
}

// HTTPServer represents an actual server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return http.ListenAndServeTLS(host, certFile, keyFile, router) //nolint:gosec
	}

	return http.ListenAndServe(host, router) //nolint:gosec
}

// Cmd returns the Cobra start command.
func Cmd(server server) *cobra.Command {
	startCmd := createStartCMD(server)

	createFlags(startCmd)

	return startCmd
}

func createStartCMD(server server) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start an agent",
		Long:  `Start an agent controller serving out-of-band invitations and DID connections`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := newAgentParameters(server, cmd)
			if err != nil {
				return err
			}

			return startAgent(parameters)
		},
	}
}

//nolint:funlen,gocyclo
func newAgentParameters(server server, cmd *cobra.Command) (*agentParameters, error) {
	s, err := newSettings(cmd)
	if err != nil {
		return nil, err
	}

	logLevel, err := s.getUserSetVar(agentLogLevelFlagName, agentLogLevelEnvKey, true)
	if err != nil {
		return nil, err
	}

	host, err := s.getUserSetVar(agentHostFlagName, agentHostEnvKey, false)
	if err != nil {
		return nil, err
	}

	token, err := s.getUserSetVar(agentTokenFlagName, agentTokenEnvKey, true)
	if err != nil {
		return nil, err
	}

	inboundHosts, err := s.getUserSetVars(agentInboundHostFlagName, agentInboundHostEnvKey, true)
	if err != nil {
		return nil, err
	}

	inboundHostExternals, err := s.getUserSetVars(agentInboundHostExternalFlagName,
		agentInboundHostExternalEnvKey, true)
	if err != nil {
		return nil, err
	}

	dbParam, err := getDBParam(s)
	if err != nil {
		return nil, err
	}

	defaultLabel, err := s.getUserSetVar(agentDefaultLabelFlagName, agentDefaultLabelEnvKey, true)
	if err != nil {
		return nil, err
	}

	autoAccept, err := getAutoAcceptValue(s)
	if err != nil {
		return nil, err
	}

	webhookURLs, err := s.getUserSetVars(agentWebhookFlagName, agentWebhookEnvKey, true)
	if err != nil {
		return nil, err
	}

	natsURL, err := s.getUserSetVar(agentNATSURLFlagName, agentNATSURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	natsSubjectPrefix, err := s.getUserSetVar(agentNATSSubjectFlagName, agentNATSSubjectEnvKey, true)
	if err != nil {
		return nil, err
	}

	outboundTransports, err := s.getUserSetVars(agentOutboundTransportFlagName,
		agentOutboundTransportEnvKey, true)
	if err != nil {
		return nil, err
	}

	transportReturnRoute, err := s.getUserSetVar(agentTransportReturnRouteFlagName,
		agentTransportReturnRouteEnvKey, true)
	if err != nil {
		return nil, err
	}

	tlsCertFile, err := s.getUserSetVar(agentTLSCertFileFlagName, agentTLSCertFileEnvKey, true)
	if err != nil {
		return nil, err
	}

	tlsKeyFile, err := s.getUserSetVar(agentTLSKeyFileFlagName, agentTLSKeyFileEnvKey, true)
	if err != nil {
		return nil, err
	}

	return &agentParameters{
		server:               server,
		host:                 host,
		token:                token,
		logLevel:             logLevel,
		inboundHostInternals: inboundHosts,
		inboundHostExternals: inboundHostExternals,
		dbParam:              dbParam,
		defaultLabel:         defaultLabel,
		webhookURLs:          webhookURLs,
		natsURL:              natsURL,
		natsSubjectPrefix:    natsSubjectPrefix,
		outboundTransports:   outboundTransports,
		autoAccept:           autoAccept,
		transportReturnRoute: transportReturnRoute,
		tlsCertFile:          tlsCertFile,
		tlsKeyFile:           tlsKeyFile,
	}, nil
}

func getDBParam(s *settings) (*dbParam, error) {
	dbParam := &dbParam{}

	var err error

	dbParam.dbType, err = s.getUserSetVar(databaseTypeFlagName, databaseTypeEnvKey, false)
	if err != nil {
		return nil, err
	}

	dbParam.url, err = s.getUserSetVar(databaseURLFlagName, databaseURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	dbTimeout, err := s.getUserSetVar(databaseTimeoutFlagName, databaseTimeoutEnvKey, true)
	if err != nil {
		return nil, err
	}

	if dbTimeout == "" || dbTimeout == "0" {
		dbTimeout = databaseTimeoutDefault
	}

	t, err := strconv.ParseUint(dbTimeout, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db timeout %s: %w", dbTimeout, err)
	}

	dbParam.timeout = t

	return dbParam, nil
}

func getAutoAcceptValue(s *settings) (bool, error) {
	v, err := s.getUserSetVar(agentAutoAcceptFlagName, agentAutoAcceptEnvKey, true)
	if err != nil {
		return false, err
	}

	if v == "" {
		return false, nil
	}

	return strconv.ParseBool(v)
}

func createFlags(startCmd *cobra.Command) {
	// config file flag
	startCmd.Flags().StringP(configFileFlagName, "", "", configFileFlagUsage)

	// agent host flag
	startCmd.Flags().StringP(agentHostFlagName, agentHostFlagShorthand, "", agentHostFlagUsage)

	// agent token flag
	startCmd.Flags().StringP(agentTokenFlagName, agentTokenFlagShorthand, "", agentTokenFlagUsage)

	// inbound host flag
	startCmd.Flags().StringSliceP(agentInboundHostFlagName, agentInboundHostFlagShorthand, []string{},
		agentInboundHostFlagUsage)

	// inbound external host flag
	startCmd.Flags().StringSliceP(agentInboundHostExternalFlagName, agentInboundHostExternalFlagShorthand,
		[]string{}, agentInboundHostExternalFlagUsage)

	// db type
	startCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)

	// db url
	startCmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)

	// db timeout
	startCmd.Flags().StringP(databaseTimeoutFlagName, "", "", databaseTimeoutFlagUsage)

	// webhook url flag
	startCmd.Flags().StringSliceP(agentWebhookFlagName, agentWebhookFlagShorthand, []string{}, agentWebhookFlagUsage)

	// nats flags
	startCmd.Flags().StringP(agentNATSURLFlagName, "", "", agentNATSURLFlagUsage)
	startCmd.Flags().StringP(agentNATSSubjectFlagName, "", "", agentNATSSubjectFlagUsage)

	// log level
	startCmd.Flags().StringP(agentLogLevelFlagName, "", "", agentLogLevelFlagUsage)

	// agent default label flag
	startCmd.Flags().StringP(agentDefaultLabelFlagName, agentDefaultLabelFlagShorthand, "",
		agentDefaultLabelFlagUsage)

	// agent outbound transport flag
	startCmd.Flags().StringSliceP(agentOutboundTransportFlagName, agentOutboundTransportFlagShorthand, []string{},
		agentOutboundTransportFlagUsage)

	// auto accept flag
	startCmd.Flags().StringP(agentAutoAcceptFlagName, "", "", agentAutoAcceptFlagUsage)

	// transport return route option flag
	startCmd.Flags().StringP(agentTransportReturnRouteFlagName, "", "", agentTransportReturnRouteFlagUsage)

	// tls cert file
	startCmd.Flags().StringP(agentTLSCertFileFlagName,
		agentTLSCertFileFlagShorthand, "", agentTLSCertFileFlagUsage)

	// tls key file
	startCmd.Flags().StringP(agentTLSKeyFileFlagName,
		agentTLSKeyFileFlagShorthand, "", agentTLSKeyFileFlagUsage)
}

func getOutboundTransportOpts(outboundTransports []string) ([]aries.Option, error) {
	var opts []aries.Option

	var transports []transport.OutboundTransport

	for _, outboundTransport := range outboundTransports {
		switch outboundTransport {
		case httpProtocol:
			outbound, err := arieshttp.NewOutbound(arieshttp.WithOutboundHTTPClient(&http.Client{}))
			if err != nil {
				return nil, fmt.Errorf("http outbound transport initialization failed: %w", err)
			}

			transports = append(transports, outbound)
		case websocketProtocol:
			transports = append(transports, ws.NewOutbound())
		default:
			return nil, fmt.Errorf("outbound transport [%s] not supported", outboundTransport)
		}
	}

	if len(transports) > 0 {
		opts = append(opts, aries.WithOutboundTransports(transports...))
	}

	return opts, nil
}

func getInboundTransportOpts(inboundHostInternals, inboundHostExternals []string) ([]aries.Option, error) {
	internalHost, err := getInboundSchemeToURLMap(inboundHostInternals)
	if err != nil {
		return nil, fmt.Errorf("inbound internal host : %w", err)
	}

	externalHost, err := getInboundSchemeToURLMap(inboundHostExternals)
	if err != nil {
		return nil, fmt.Errorf("inbound external host : %w", err)
	}

	var opts []aries.Option

	for scheme, host := range internalHost {
		switch scheme {
		case httpProtocol:
			opts = append(opts, defaults.WithInboundHTTPAddr(host, externalHost[scheme]))
		case websocketProtocol:
			opts = append(opts, defaults.WithInboundWSAddr(host, externalHost[scheme]))
		default:
			return nil, fmt.Errorf("inbound transport [%s] not supported", scheme)
		}
	}

	return opts, nil
}

func getInboundSchemeToURLMap(schemeHostStr []string) (map[string]string, error) {
	const validSliceLen = 2

	schemeHostMap := make(map[string]string)

	for _, schemeHost := range schemeHostStr {
		schemeHostSlice := strings.SplitN(schemeHost, "@", validSliceLen)
		if len(schemeHostSlice) != validSliceLen {
			return nil, fmt.Errorf("invalid inbound host option: Use scheme@url to pass the option")
		}

		schemeHostMap[schemeHostSlice[0]] = schemeHostSlice[1]
	}

	return schemeHostMap, nil
}

func setLogLevel(logLevel string) error {
	if logLevel == "" {
		logLevel = agentLogLevelDefault
	}

	if err := logging.Initialize(logging.NewProvider(os.Stdout), logLevel); err != nil {
		return fmt.Errorf("failed to set log level '%s' : %w", logLevel, err)
	}

	logger.Infof("logger level set to %s", logLevel)

	return nil
}

func validateAuthorizationBearerToken(w http.ResponseWriter, r *http.Request, token string) bool {
	actHdr := r.Header.Get("Authorization")
	expHdr := "Bearer " + token

	if subtle.ConstantTimeCompare([]byte(actHdr), []byte(expHdr)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Unauthorised.\n")) // nolint:gosec,errcheck

		return false
	}

	return true
}

func authorizationMiddleware(token string) mux.MiddlewareFunc {
	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validateAuthorizationBearerToken(w, r, token) {
				next.ServeHTTP(w, r)
			}
		})
	}

	return middleware
}

func startAgent(parameters *agentParameters) error {
	if parameters.host == "" {
		return errMissingHost
	}

	if err := setLogLevel(parameters.logLevel); err != nil {
		return err
	}

	framework, err := createAriesAgent(parameters)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := framework.Close(); closeErr != nil {
			logger.Warnf("failed to close agent : %s", closeErr)
		}
	}()

	router, closeNotifier, err := createRouter(framework, parameters)
	if err != nil {
		return err
	}

	defer closeNotifier()

	logger.Infof("Starting aries agent rest on host [%s]", parameters.host)
	// start server on given port and serve using given handlers
	handler := cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		},
	).Handler(router)

	err = parameters.server.ListenAndServe(parameters.host, handler, parameters.tlsCertFile, parameters.tlsKeyFile)
	if err != nil {
		return errors.Wrapf(err, "failed to start aries agent rest on port [%s]", parameters.host)
	}

	return nil
}

func createRouter(framework *aries.Aries, parameters *agentParameters) (*mux.Router, func(), error) {
	ctx, err := framework.Context()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to start aries agent rest on port [%s], failed to get aries context",
			parameters.host)
	}

	var notifierOpts []webnotifier.Opt

	closeNotifier := func() {}

	if parameters.natsURL != "" {
		natsOpts := []webnotifier.NATSOpt{webnotifier.WithClientName("aries-agent-rest")}
		if parameters.natsSubjectPrefix != "" {
			natsOpts = append(natsOpts, webnotifier.WithSubjectPrefix(parameters.natsSubjectPrefix))
		}

		natsNotifier, natsErr := webnotifier.NewNATSNotifier(parameters.natsURL, natsOpts...)
		if natsErr != nil {
			return nil, nil, errors.Wrapf(natsErr, "failed to start aries agent rest on port [%s], nats notifier",
				parameters.host)
		}

		notifierOpts = append(notifierOpts, webnotifier.WithNotifier(natsNotifier))
		closeNotifier = natsNotifier.Close
	}

	notifier := webnotifier.New("/ws", parameters.webhookURLs, notifierOpts...)

	// get all HTTP REST API handlers available for controller API
	handlers, err := controller.GetRESTHandlers(ctx, controller.WithNotifier(notifier))
	if err != nil {
		closeNotifier()

		return nil, nil, errors.Wrapf(err, "failed to start aries agent rest on port [%s], failed to get rest service api",
			parameters.host)
	}

	router := mux.NewRouter()

	if parameters.token != "" {
		router.Use(authorizationMiddleware(parameters.token))
	}

	for _, handler := range handlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	return router, closeNotifier, nil
}

func createAriesAgent(parameters *agentParameters) (*aries.Aries, error) {
	var opts []aries.Option

	storePro, err := createStoreProviders(parameters)
	if err != nil {
		return nil, err
	}

	opts = append(opts, aries.WithStoreProvider(storePro), aries.WithAutoAcceptConnections(parameters.autoAccept))

	if parameters.defaultLabel != "" {
		opts = append(opts, aries.WithLabel(parameters.defaultLabel))
	}

	if parameters.transportReturnRoute != "" {
		opts = append(opts, aries.WithTransportReturnRoute(parameters.transportReturnRoute))
	}

	inboundTransportOpt, err := getInboundTransportOpts(parameters.inboundHostInternals,
		parameters.inboundHostExternals)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start aries agent rest on port [%s], failed to inbound tranpsort opt",
			parameters.host)
	}

	opts = append(opts, inboundTransportOpt...)

	outboundTransportOpts, err := getOutboundTransportOpts(parameters.outboundTransports)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start aries agent rest on port [%s], failed to outbound transport opts",
			parameters.host)
	}

	opts = append(opts, outboundTransportOpts...)

	framework, err := aries.New(opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start aries agent rest on port [%s], failed to initialize framework",
			parameters.host)
	}

	return framework, nil
}

func createStoreProviders(parameters *agentParameters) (storage.Provider, error) {
	provider, supported := supportedStorageProviders[parameters.dbParam.dbType]
	if !supported {
		return nil, fmt.Errorf("key database type not set to a valid type." +
			" run start --help to see the available options")
	}

	var store storage.Provider

	err := backoff.RetryNotify(
		func() error {
			var openErr error
			store, openErr = provider(parameters.dbParam.url)
			return openErr
		},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), parameters.dbParam.timeout),
		func(retryErr error, t time.Duration) {
			logger.Warnf(
				"failed to connect to storage, will sleep for %s before trying again : %s\n",
				t, retryErr)
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to storage at %s", parameters.dbParam.url)
	}

	return store, nil
}
