// Provides platform-appropriate paths for zpbuild.
//
// Paths follow XDG conventions on Linux and platform-native conventions on
// macOS. The program name "zpbuild" is used as the subdirectory under each
// base path.
package paths
